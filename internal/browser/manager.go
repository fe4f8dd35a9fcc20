// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xanthous9/intentflow/internal/config"
)

// Manager owns the Chrome process allocator. Every Driver (tab) is derived
// from the allocator context; closing the manager tears down the browser and
// every tab with it.
type Manager struct {
	cfg         config.BrowserConfig
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu      sync.Mutex
	drivers []*Driver
	closed  bool
}

// NewManager configures the exec allocator. The browser process itself is
// started lazily, on the first NewDriver call.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	return &Manager{
		cfg:         cfg,
		logger:      logger.Named("browser"),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// NewDriver opens a fresh tab and returns a Driver bound to it.
func (m *Manager) NewDriver(ctx context.Context) (*Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser manager is closed")
	}

	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Errorf),
	)

	// Force the browser process up so startup failures surface here, not on
	// the first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to start browser tab: %w", err)
	}

	d := &Driver{
		ctx:    tabCtx,
		cancel: tabCancel,
		cfg:    m.cfg,
		logger: m.logger.Named("driver"),
	}
	m.drivers = append(m.drivers, d)
	m.logger.Debug("Opened browser tab", zap.Int("open_tabs", len(m.drivers)))
	return d, nil
}

// Close shuts down every open tab and the browser process.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	for _, d := range m.drivers {
		d.cancel()
	}
	m.drivers = nil
	m.allocCancel()
	m.logger.Info("Browser manager closed")
	return nil
}
