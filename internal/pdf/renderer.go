// Package pdf renders invoice documents to PDF through a headless browser.
package pdf

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Renderer turns an HTML document into PDF bytes.
type Renderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

// ChromeRenderer renders via a headless Chrome instance spawned per call.
// A fresh allocator per invoice keeps the service free of long-lived
// browser state at the cost of startup latency, which is fine at invoice
// volume.
type ChromeRenderer struct {
	logger  *slog.Logger
	timeout time.Duration
}

// NewChromeRenderer returns a renderer with the given per-render timeout.
// A zero timeout defaults to 30 seconds.
func NewChromeRenderer(logger *slog.Logger, timeout time.Duration) *ChromeRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromeRenderer{logger: logger, timeout: timeout}
}

// Render loads the document as a data URL and prints it to PDF in A4.
func (r *ChromeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	dataURL := "data:text/html;charset=utf-8," + url.PathEscape(html)

	start := time.Now()
	var buf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(dataURL),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			buf, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(8.27).   // A4 inches
				WithPaperHeight(11.69).
				WithMarginTop(0.4).
				WithMarginBottom(0.4).
				WithMarginLeft(0.4).
				WithMarginRight(0.4).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print to pdf: %w", err)
	}

	r.logger.Debug("invoice rendered",
		slog.Int("size_bytes", len(buf)),
		slog.Duration("duration", time.Since(start)))

	return buf, nil
}
