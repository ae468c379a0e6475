package accel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samcharles93/systolic/internal/device"
	"github.com/samcharles93/systolic/internal/logger"
)

var (
	ErrConfigurationLoad = errors.New("configuration load failed")
	ErrNotConfigured     = errors.New("accelerator not configured")
	ErrClosed            = errors.New("accelerator manager closed")
	// ErrStale means the last load failed after the device was reset. The
	// previous configuration is still reported but its handles are gone.
	ErrStale = fmt.Errorf("%w: last load failed, reload required", ErrNotConfigured)
)

// Session is exclusive access to a configured accelerator for the duration
// of a With callback.
type Session struct {
	Config    Config
	DMA       device.DMA
	Registers device.Registers
}

// Manager serializes every use of the device. A Load and a GEMM never
// interleave; concurrent callers queue on the manager's lock. Current reads
// a snapshot and never waits on that lock.
type Manager struct {
	ctrl device.Control

	mu      sync.Mutex
	cfg     *Config
	handles *device.Handles
	closed  bool

	current atomic.Pointer[Config]
	stale   atomic.Bool
}

func NewManager(ctrl device.Control) *Manager {
	return &Manager{ctrl: ctrl}
}

// Load configures the accelerator with requested. Unless force is set, a
// request identical to the current configuration is a no-op. It reports
// whether a bitstream was loaded. A failure after the device was reset
// leaves the previous configuration in Current but marks the manager stale:
// With fails with ErrStale and the next Load always reloads.
func (m *Manager) Load(ctx context.Context, requested Config, force bool) (bool, error) {
	if err := requested.Validate(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !force && !m.stale.Load() && m.cfg != nil && *m.cfg == requested {
		return false, nil
	}

	log := logger.Component(ctx, "accel").With("image", requested.Image().Name())
	log.Info("loading bitstream", "force", force)
	start := time.Now()

	// From here on the device no longer holds the previous image.
	handles, err := m.reload(ctx, requested)
	if m.handles != nil {
		if cerr := m.handles.Close(); cerr != nil {
			log.Warn("releasing previous handles", "error", cerr)
		}
		m.handles = nil
	}
	if err != nil {
		m.stale.Store(true)
		log.Warn("bitstream load failed", "error", err)
		return false, err
	}

	cfg := requested
	m.cfg = &cfg
	m.handles = handles
	m.stale.Store(false)
	m.current.Store(&cfg)

	log.Info("bitstream loaded", "duration", time.Since(start))
	return true, nil
}

func (m *Manager) reload(ctx context.Context, requested Config) (*device.Handles, error) {
	if err := m.ctrl.Reset(ctx); err != nil {
		return nil, fmt.Errorf("%w: reset: %w", ErrConfigurationLoad, err)
	}
	handles, err := m.ctrl.LoadImage(ctx, requested.Image().Name())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationLoad, err)
	}
	if err := handles.Registers.Write(device.RegFraming, uint32(requested.R)); err != nil {
		_ = handles.Close()
		return nil, fmt.Errorf("%w: framing register: %w", ErrConfigurationLoad, err)
	}
	return handles, nil
}

// Current returns the most recently loaded configuration without waiting
// for a running GEMM or load.
func (m *Manager) Current() (Config, bool) {
	cfg := m.current.Load()
	if cfg == nil {
		return Config{}, false
	}
	return *cfg, true
}

// Ready reports whether the device holds the image Current describes.
func (m *Manager) Ready() bool {
	return m.current.Load() != nil && !m.stale.Load()
}

// With runs fn with exclusive use of the configured accelerator.
func (m *Manager) With(ctx context.Context, fn func(s *Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.cfg == nil {
		return ErrNotConfigured
	}
	if m.stale.Load() {
		return ErrStale
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&Session{
		Config:    *m.cfg,
		DMA:       m.handles.DMA,
		Registers: m.handles.Registers,
	})
}

// Close releases the device handles. Later calls fail with ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cfg = nil
	m.current.Store(nil)
	if m.handles == nil {
		return nil
	}
	err := m.handles.Close()
	m.handles = nil
	return err
}
