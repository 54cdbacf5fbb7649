package headless

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/policy/ratelimit"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
)

// Session owns one browser process. It is not safe for concurrent use; the
// worker that launched it captures pages sequentially.
type Session struct {
	cfg           Config
	logger        *zap.Logger
	limiter       *ratelimit.Limiter
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	closeOnce     sync.Once
}

var _ screenshot.Session = (*Session)(nil)

// Capture renders rawURL in a fresh browser context and returns a full-page PNG.
func (s *Session) Capture(ctx context.Context, rawURL string) (screenshot.Capture, error) {
	if err := s.limiter.Wait(ctx, rawURL); err != nil {
		return screenshot.Capture{}, fmt.Errorf("%w: domain budget: %w", screenshot.ErrNavigation, err)
	}

	pageCtx, cancelPage := chromedp.NewContext(s.browserCtx, chromedp.WithNewBrowserContext())
	defer cancelPage()

	taskCtx, cancelTask := context.WithTimeout(pageCtx, s.cfg.Timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	if err := chromedp.Run(taskCtx, s.setupAction()); err != nil {
		return screenshot.Capture{}, fmt.Errorf("%w: page setup: %w", screenshot.ErrNavigation, s.cause(ctx, err))
	}

	resp, err := chromedp.RunResponse(taskCtx, chromedp.Navigate(rawURL))
	if err != nil {
		return screenshot.Capture{}, fmt.Errorf("%w: %w", screenshot.ErrNavigation, s.cause(ctx, err))
	}
	status := responseStatus(resp)
	if status >= 400 {
		return screenshot.Capture{}, &screenshot.HTTPStatusError{StatusCode: status}
	}

	var (
		image []byte
		title string
	)
	if err := chromedp.Run(taskCtx,
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.FullScreenshot(&image, 100),
	); err != nil {
		return screenshot.Capture{}, fmt.Errorf("%w: screenshot: %w", screenshot.ErrCapture, s.cause(ctx, err))
	}
	if err := chromedp.Run(taskCtx, chromedp.Title(&title)); err != nil {
		return screenshot.Capture{}, fmt.Errorf("%w: title: %w", screenshot.ErrCapture, s.cause(ctx, err))
	}
	return screenshot.Capture{
		Image:      image,
		Title:      pageTitle(title),
		StatusCode: status,
	}, nil
}

// Close shuts the browser down. Calling it more than once is safe.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.browserCancel()
		s.allocCancel()
	})
	return nil
}

func (s *Session) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := chromedp.EmulateViewport(int64(s.cfg.ViewportWidth), int64(s.cfg.ViewportHeight)).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if s.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// cause prefers the caller's cancellation over the chromedp error so shutdowns
// classify as canceled rather than as navigation failures.
func (s *Session) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return err
}

func responseStatus(resp *network.Response) int {
	if resp == nil || resp.Status == 0 {
		return 200
	}
	return int(resp.Status)
}

func pageTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return noTitle
	}
	return title
}
