package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"receipts/internal/config"
)

// ErrUnavailable marks a renderer that could not be started or has died.
var ErrUnavailable = errors.New("renderer unavailable")

type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// A4 in inches, as expected by Page.printToPDF.
const (
	paperWidth  = 8.27
	paperHeight = 11.69
)

// Chrome renders HTML through one headless Chrome process that is started on
// first use and reused for every document until Close.
type Chrome struct {
	cfg     config.Chrome
	log     *slog.Logger
	backoff Backoff

	mu            sync.Mutex
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	startErr      error
}

func NewChrome(cfg config.Chrome, log *slog.Logger) *Chrome {
	if log == nil {
		log = slog.Default()
	}
	attempts := cfg.StartAttempts
	if attempts <= 0 {
		attempts = 8
	}
	return &Chrome{
		cfg: cfg,
		log: log,
		backoff: Backoff{
			Attempts: attempts,
			Base:     250 * time.Millisecond,
			Max:      4 * time.Second,
			Jitter:   100 * time.Millisecond,
		},
	}
}

func (c *Chrome) start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx != nil {
		return nil
	}
	if c.startErr != nil {
		return c.startErr
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("disable-translate", true),
	)
	if c.cfg.Path != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.Path))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	err := Retry(ctx, c.backoff, func(context.Context) error {
		// An empty Run launches the browser and waits for its first target.
		return chromedp.Run(browserCtx)
	})
	if err != nil {
		cancelBrowser()
		cancelAlloc()
		c.startErr = fmt.Errorf("%w: start chrome: %v", ErrUnavailable, err)
		return c.startErr
	}

	c.log.Debug("chrome started")
	c.browserCtx = browserCtx
	c.cancelBrowser = cancelBrowser
	c.cancelAlloc = cancelAlloc
	return nil
}

// Render loads html from a temporary file in a fresh tab and prints it to PDF.
func (c *Chrome) Render(ctx context.Context, html string) ([]byte, error) {
	if err := c.start(ctx); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp("", "receipt-*.html")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	if _, err := f.WriteString(html); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(c.browserCtx)
	defer cancelTab()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.cfg.RenderTimeout())
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	var pdf []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("file://"+f.Name()),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetEmulatedMedia().WithMedia("screen").Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPaperWidth(paperWidth).
				WithPaperHeight(paperHeight).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithScale(0.7).
				Do(ctx)
			pdf = buf
			return err
		}),
	)
	if err != nil {
		if c.browserCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return pdf, nil
}

// Close terminates the browser process. It is safe to call more than once.
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browserCtx == nil {
		return nil
	}
	err := chromedp.Cancel(c.browserCtx)
	c.cancelBrowser()
	c.cancelAlloc()
	c.browserCtx = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
