package client

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// BrowserRenderer loads pages in headless Chrome.
type BrowserRenderer struct {
	ExecPath string
	Timeout  time.Duration
}

func findChrome() (string, error) {
	for _, name := range []string{"chrome", "google-chrome", "chromium", "msedge"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no Chrome or Chromium executable found in PATH")
}

func (b *BrowserRenderer) createChromeContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	execPath := b.ExecPath
	if execPath == "" {
		p, err := findChrome()
		if err != nil {
			return nil, nil, err
		}
		execPath = p
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.ExecPath(execPath))
	allocatorCtx, cancelAllocator := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelContext := chromedp.NewContext(allocatorCtx, chromedp.WithLogf(log.Debug().Msgf))
	return browserCtx, func() {
		cancelContext()
		cancelAllocator()
	}, nil
}

// Render navigates to url, waits for the body and returns the page HTML.
func (b *BrowserRenderer) Render(ctx context.Context, url string) (string, error) {
	browserCtx, cancel, err := b.createChromeContext(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(browserCtx, timeout)
	defer cancelTimeout()

	var page string
	err = chromedp.Run(timeoutCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
		chromedp.OuterHTML(`html`, &page, chromedp.ByQuery),
	)
	return page, err
}
