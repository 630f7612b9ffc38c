package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"mediinterpret/internal/attachment"
	"mediinterpret/internal/chat"
	"mediinterpret/internal/consult"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/markdown"
)

// CLI implements domain.Channel for an interactive terminal consultation.
type CLI struct {
	chat    *chat.Manager
	encoder *attachment.Encoder
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	plain   bool
	typ     domain.ConsultationType
	theme   markdown.TerminalTheme

	titleStyle lipgloss.Style
	mutedStyle lipgloss.Style
	errStyle   lipgloss.Style

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
	thinkDone chan struct{}
}

type CLIConfig struct {
	Chat    *chat.Manager
	Encoder *attachment.Encoder
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
	// Plain disables ANSI styling and the spinner.
	Plain bool
	// Type skips the category picker for the first consultation.
	Type domain.ConsultationType
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Encoder == nil {
		cfg.Encoder = attachment.NewEncoder(0, nil)
	}
	accent := lipgloss.Color("37")
	return &CLI{
		chat:       cfg.Chat,
		encoder:    cfg.Encoder,
		logger:     cfg.Logger,
		in:         cfg.In,
		out:        cfg.Out,
		plain:      cfg.Plain,
		typ:        cfg.Type,
		theme:      markdown.DefaultTheme(),
		titleStyle: lipgloss.NewStyle().Bold(true).Foreground(accent),
		mutedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		errStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
}

func (c *CLI) Name() string { return "cli" }

const cliHelp = `Commands:
  /attach <path>  attach an image or PDF to your next question
  /send           send the attachment without a question
  /detach         drop the pending attachment
  /back           return to category selection
  /help           show this message
  /quit           exit`

// Start runs the interactive loop and blocks until the user quits, input
// ends or ctx is cancelled.
func (c *CLI) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	typ := c.typ
	for {
		if typ == "" {
			var quit bool
			typ, quit = c.pickCategory(ctx, scanner)
			if quit {
				return scanner.Err()
			}
		}

		back, err := c.consult(ctx, scanner, typ)
		if err != nil || !back {
			return err
		}
		typ = ""
	}
}

// pickCategory prints the category menu and reads a choice by number or
// name.
func (c *CLI) pickCategory(ctx context.Context, scanner *bufio.Scanner) (domain.ConsultationType, bool) {
	cats := c.chat.Catalog().List()
	c.println(c.style(c.titleStyle, "MediInterpret") + " " + c.style(c.mutedStyle, "choose a consultation type"))
	for i, cat := range cats {
		c.printf("  %d. %s  %s\n", i+1, c.style(c.theme.Bold, cat.Title), c.style(c.mutedStyle, cat.Description))
	}

	for {
		c.printf("Choice> ")
		if ctx.Err() != nil || !scanner.Scan() {
			return "", true
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit", "/q":
			return "", true
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(cats) {
			return cats[n-1].Type, false
		}
		if t, err := consult.ParseType(line); err == nil {
			return t, false
		}
		c.println(c.style(c.errStyle, "Enter a number between 1 and "+strconv.Itoa(len(cats))+"."))
	}
}

// consult runs one consultation. It reports whether the user asked to go
// back to the category menu.
func (c *CLI) consult(ctx context.Context, scanner *bufio.Scanner, typ domain.ConsultationType) (bool, error) {
	s, err := c.chat.Start(ctx, typ, "cli")
	if err != nil {
		return false, fmt.Errorf("start consultation: %w", err)
	}
	defer c.chat.Back(s.ID)

	cat := c.chat.Catalog().Get(s.Type)
	c.println("")
	c.println(c.style(c.titleStyle, cat.Title))
	c.println(c.render(markdown.Parse(s.Messages[0].Text)))
	c.println(c.style(c.mutedStyle, "Try: "+strings.Join(cat.Suggestions, " | ")))
	c.println(c.style(c.mutedStyle, "Type /help for commands."))

	var pending *domain.Attachment
	for {
		c.printf("You> ")
		if ctx.Err() != nil || !scanner.Scan() {
			return false, scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit" || line == "/q":
			c.logger.Info("user requested quit")
			return false, nil
		case line == "/back":
			c.println("")
			return true, nil
		case line == "/help":
			c.println(cliHelp)
			continue
		case line == "/send":
			if pending == nil {
				c.println(c.style(c.errStyle, "Nothing attached."))
				continue
			}
			c.ask(ctx, s.ID, "", pending)
			pending = nil
			continue
		case line == "/detach":
			pending = nil
			c.println(c.style(c.mutedStyle, "Attachment removed."))
			continue
		case strings.HasPrefix(line, "/attach"):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/attach"))
			if path == "" {
				c.println(c.style(c.errStyle, "Usage: /attach <path>"))
				continue
			}
			att, err := c.encoder.FromFile(expandHome(path))
			if err != nil {
				c.println(c.style(c.errStyle, "Cannot attach: "+err.Error()))
				continue
			}
			pending = att
			c.println(c.style(c.mutedStyle, fmt.Sprintf("Attached %s (%s). Type your question, or /send to send it as is.", att.Name, att.MimeType)))
			continue
		case strings.HasPrefix(line, "/"):
			c.println(c.style(c.errStyle, "Unknown command. Type /help."))
			continue
		}

		c.ask(ctx, s.ID, line, pending)
		pending = nil
	}
}

// ask sends one question and prints the answer block by block as blocks
// become final.
func (c *CLI) ask(ctx context.Context, id, text string, att *domain.Attachment) {
	p := &blockPrinter{render: c.render, out: c.out}
	c.startThinking()
	msg, err := c.chat.Send(ctx, id, text, att, func(u chat.Update) {
		c.stopThinking()
		p.update(u.Blocks)
	})
	c.stopThinking()

	if err != nil {
		c.println(c.style(c.errStyle, err.Error()))
		return
	}
	if msg.IsError {
		p.finish(nil)
		c.println(c.style(c.errStyle, msg.Text))
		return
	}
	p.finish(markdown.Parse(msg.Text))
	c.println("")
}

func (c *CLI) render(blocks []markdown.Block) string {
	if c.plain {
		return markdown.RenderText(blocks)
	}
	return markdown.RenderTerminal(blocks, c.theme)
}

func (c *CLI) style(s lipgloss.Style, text string) string {
	if c.plain {
		return text
	}
	return s.Render(text)
}

func (c *CLI) println(s string) { fmt.Fprintln(c.out, s) }

func (c *CLI) printf(format string, args ...any) { fmt.Fprintf(c.out, format, args...) }

// blockPrinter prints the blocks of a streaming answer once they can no
// longer change. The last two blocks stay pending: the line being written
// and the line above it, which a table separator may turn into a header.
type blockPrinter struct {
	render  func([]markdown.Block) string
	out     io.Writer
	printed int
}

func (p *blockPrinter) update(blocks []markdown.Block) {
	final := len(blocks) - 2
	if final > p.printed {
		fmt.Fprintln(p.out, p.render(blocks[p.printed:final]))
		p.printed = final
	}
}

func (p *blockPrinter) finish(blocks []markdown.Block) {
	if len(blocks) > p.printed {
		fmt.Fprintln(p.out, p.render(blocks[p.printed:]))
		p.printed = len(blocks)
	}
}

func (c *CLI) startThinking() {
	if c.plain {
		return
	}
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	c.thinkDone = make(chan struct{})
	go func(stop, done chan struct{}) {
		defer close(done)
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				fmt.Fprint(c.out, "\r\033[K")
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop, c.thinkDone)
}

// stopThinking stops the spinner and waits for it to clear its line.
func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
	<-c.thinkDone
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
