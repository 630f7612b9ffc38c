package main

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"text/template"

	"github.com/spf13/cobra"

	"mediinterpret/internal/config"
)

const serviceLabel = "com.mediinterpret.serve"

// service describes the user-level unit that runs `mediinterpret serve`.
type service struct {
	Label  string
	Exec   string
	Config string
	Log    string
	ErrLog string

	path  string
	tmpl  *template.Template
	hints []string
}

var serviceFuncs = template.FuncMap{
	"xml": func(s string) string {
		var b bytes.Buffer
		xml.EscapeText(&b, []byte(s))
		return b.String()
	},
	// systemd splits ExecStart on spaces unless the word is quoted.
	"quote": func(s string) string {
		if !strings.ContainsAny(s, " \t\"\\") {
			return s
		}
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	},
}

var (
	launchdTmpl = template.Must(template.New("launchd").Funcs(serviceFuncs).Parse(launchdTemplate))
	systemdTmpl = template.Must(template.New("systemd").Funcs(serviceFuncs).Parse(systemdTemplate))
)

// newService builds the service for goos with files under home.
func newService(goos, home, execPath, cfgPath string) (*service, error) {
	s := &service{Label: serviceLabel, Exec: execPath, Config: cfgPath}
	switch goos {
	case "darwin":
		logDir := filepath.Join(config.DefaultConfigDir(), "logs")
		s.Log = filepath.Join(logDir, "mediinterpret.log")
		s.ErrLog = filepath.Join(logDir, "mediinterpret-error.log")
		s.path = filepath.Join(home, "Library", "LaunchAgents", serviceLabel+".plist")
		s.tmpl = launchdTmpl
		s.hints = []string{"launchctl load " + s.path, "launchctl unload " + s.path}
	case "linux":
		s.path = filepath.Join(home, ".config", "systemd", "user", "mediinterpret.service")
		s.tmpl = systemdTmpl
		s.hints = []string{"systemctl --user daemon-reload", "systemctl --user enable --now mediinterpret", "journalctl --user -u mediinterpret -f"}
	default:
		return nil, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
	return s, nil
}

func (s *service) render() (string, error) {
	var b strings.Builder
	if err := s.tmpl.Execute(&b, s); err != nil {
		return "", fmt.Errorf("render %s: %w", s.tmpl.Name(), err)
	}
	return b.String(), nil
}

func (s *service) install() error {
	content, err := s.render()
	if err != nil {
		return err
	}
	if s.Log != "" {
		if err := os.MkdirAll(filepath.Dir(s.Log), 0o755); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(content), 0o644)
}

func currentService() (*service, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	execPath, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot determine executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
		execPath = resolved
	}
	return newService(runtime.GOOS, home, execPath, config.ExpandPath(resolveConfigPath()))
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run `serve` as a user service (launchd/systemd)",
	}

	var printOnly bool
	install := &cobra.Command{
		Use:   "install",
		Short: "Write the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentService()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if printOnly {
				content, err := s.render()
				if err != nil {
					return err
				}
				fmt.Fprintln(out, content)
				return nil
			}
			if err := s.install(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Service installed: %s\nNext:\n", s.path)
			for _, h := range s.hints {
				fmt.Fprintf(out, "  %s\n", h)
			}
			return nil
		},
	}
	install.Flags().BoolVar(&printOnly, "print", false, "print the service file instead of writing it")

	uninstall := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentService()
			if err != nil {
				return err
			}
			if err := os.Remove(s.path); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("no service installed at %s", s.path)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service removed: %s\n", s.path)
			return nil
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show whether the service file is installed and current",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := currentService()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.state())
			return nil
		},
	}

	cmd.AddCommand(install, uninstall, status)
	return cmd
}

// state compares the installed file with what install would write.
func (s *service) state() string {
	installed, err := os.ReadFile(s.path)
	if err != nil {
		return "not installed (" + s.path + ")"
	}
	want, err := s.render()
	if err != nil {
		return "installed, " + err.Error()
	}
	if string(installed) != want {
		return "installed but outdated (" + s.path + "), run `daemon install` again"
	}
	return "installed (" + s.path + ")"
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{xml .Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{xml .Exec}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{xml .Config}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{xml .Log}}</string>
    <key>StandardErrorPath</key>
    <string>{{xml .ErrLog}}</string>
</dict>
</plist>
`

const systemdTemplate = `[Unit]
Description=MediInterpret medical report assistant
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{quote .Exec}} serve --config {{quote .Config}}
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
