package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrDisabled is returned when PDF export is switched off in config.
var ErrDisabled = errors.New("pdf export is disabled")

const defaultTimeout = 60 * time.Second

// PDFConfig holds configuration for the headless Chrome printer.
type PDFConfig struct {
	ProfileDir string // Chrome user data directory, reused between runs
	Headless   bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

// PDFExporter prints HTML documents to PDF with headless Chrome.
type PDFExporter struct {
	profileDir string
	headless   bool
	timeout    time.Duration
	logger     *slog.Logger
}

func NewPDFExporter(cfg PDFConfig) *PDFExporter {
	if cfg.ProfileDir == "" {
		home, _ := os.UserHomeDir()
		cfg.ProfileDir = filepath.Join(home, ".mediinterpret", "chrome-profile")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PDFExporter{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
}

// newContext creates a chromedp context using the exporter's profile.
// The caller MUST call cancel() when done.
func (e *PDFExporter) newContext(parent context.Context) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(e.profileDir, 0o755); err != nil {
		e.logger.Error("failed to create profile dir", "dir", e.profileDir, "err", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(e.profileDir),
		chromedp.DisableGPU,
	)
	if e.headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	return taskCtx, func() {
		taskCancel()
		allocCancel()
	}
}

// PrintHTML loads doc into a blank page and prints it as an A4 PDF.
func (e *PDFExporter) PrintHTML(ctx context.Context, doc []byte) ([]byte, error) {
	taskCtx, cancel := e.newContext(ctx)
	defer cancel()

	taskCtx, timeoutCancel := context.WithTimeout(taskCtx, e.timeout)
	defer timeoutCancel()

	start := time.Now()
	var pdf []byte
	err := chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, string(doc)).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.4).
				WithMarginBottom(0.4).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}

	e.logger.Debug("pdf printed", "bytes", len(pdf), "duration", time.Since(start))
	return pdf, nil
}

// Transcript renders t to HTML and prints it.
func (e *PDFExporter) Transcript(ctx context.Context, t Transcript) ([]byte, error) {
	doc, err := RenderHTML(t)
	if err != nil {
		return nil, err
	}
	return e.PrintHTML(ctx, doc)
}
