package headless

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotbatch/internal/policy/ratelimit"
	"github.com/JakeFAU/shotbatch/internal/screenshot"
)

const (
	defaultTimeout = 30 * time.Second
	noTitle        = "No title"
)

// Config controls browser launch and per-page capture.
type Config struct {
	Headless        bool
	ViewportWidth   int
	ViewportHeight  int
	Timeout         time.Duration
	Proxy           string
	UserAgent       string
	SettleDelay     time.Duration
	IgnoreTLSErrors bool
	// BrowserArgs are extra Chrome switches, written without the leading
	// dashes ("lang=en-US" or "disable-web-security").
	BrowserArgs []string
	ExecPath    string
	// DomainQPS caps captures per second against a single host across all
	// sessions of the backend. Zero disables the cap.
	DomainQPS float64
}

// Backend launches chromedp sessions.
type Backend struct {
	cfg     Config
	logger  *zap.Logger
	limiter *ratelimit.Limiter
}

var _ screenshot.Backend = (*Backend)(nil)

// New validates cfg and returns a Backend.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		return nil, fmt.Errorf("viewport must be positive, got %dx%d", cfg.ViewportWidth, cfg.ViewportHeight)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("settle delay must be >= 0")
	}
	if cfg.DomainQPS < 0 {
		return nil, fmt.Errorf("domain qps must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cfg:     cfg,
		logger:  logger.Named("backend"),
		limiter: ratelimit.New(ratelimit.Config{QPS: cfg.DomainQPS}),
	}, nil
}

// Launch starts a dedicated browser process and waits for it to come up.
// Failures wrap screenshot.ErrBackendInit.
func (b *Backend) Launch(ctx context.Context) (screenshot.Session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(b.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stopForward := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopForward()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("%w: chromedp warmup: %w", screenshot.ErrBackendInit, err)
	}
	b.logger.Debug("browser launched",
		zap.Bool("headless", b.cfg.Headless),
		zap.String("proxy", b.cfg.Proxy),
	)
	return &Session{
		cfg:           b.cfg,
		logger:        b.logger,
		limiter:       b.limiter,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.Proxy))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.BrowserArgs {
		name, value, ok := parseBrowserArg(arg)
		if !ok {
			continue
		}
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// parseBrowserArg splits "--name=value" (dashes optional) into a chromedp flag.
// Switches without a value become boolean true.
func parseBrowserArg(arg string) (string, any, bool) {
	arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
	if arg == "" {
		return "", nil, false
	}
	name, value, found := strings.Cut(arg, "=")
	if name == "" {
		return "", nil, false
	}
	if !found {
		return name, true, true
	}
	return name, value, true
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
