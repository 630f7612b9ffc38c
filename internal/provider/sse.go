package provider

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
)

// errStopStream ends readSSE/readNDJSON without an error.
var errStopStream = errors.New("stop stream")

// readSSE calls onData for every "data:" payload of a server-sent event
// stream. Comments, event names and blank lines are skipped. "[DONE]" ends
// the stream.
func readSSE(ctx context.Context, r io.Reader, onData func(data string) error) error {
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadString('\n')
		if line = strings.TrimSpace(line); strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return nil
			}
			if cbErr := onData(data); cbErr != nil {
				if errors.Is(cbErr, errStopStream) {
					return nil
				}
				return cbErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// readNDJSON calls onLine for every non-empty line of a newline-delimited
// JSON stream.
func readNDJSON(ctx context.Context, r io.Reader, onLine func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := onLine(line); err != nil {
			if errors.Is(err, errStopStream) {
				return nil
			}
			return err
		}
	}
	return scanner.Err()
}
