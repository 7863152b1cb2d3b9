// Package beatparser orchestrates the beat detection pipeline: validation,
// frame analysis, onset detection, tempo estimation, beat selection and the
// plugin hook chain, behind a small lifecycle state machine.
package beatparser

import (
	"context"
	"log/slog"
	"sync"

	"github.com/beatscan/beatscan-go/internal/conf"
	"github.com/beatscan/beatscan-go/internal/errors"
	"github.com/beatscan/beatscan-go/internal/logging"
	"github.com/beatscan/beatscan-go/internal/observability/metrics"
)

// Parser lifecycle states
type parserState int

const (
	stateUninitialized parserState = iota
	stateInitialized
	stateCleaned
)

// Sentinel errors for lifecycle violations
var (
	ErrConfigLocked  = errors.NewStd("configuration is locked after parser initialization")
	ErrParserCleaned = errors.NewStd("parser has been cleaned up and can no longer be used")
)

// Parser runs the beat detection pipeline. The zero value is not usable;
// construct with New. Configuration and the plugin list are frozen at
// Initialize, which makes concurrent Parse* calls safe without locking:
// every call keeps its intermediate state local.
type Parser struct {
	mu      sync.RWMutex
	state   parserState
	cfg     conf.ParserSettings
	plugins []Plugin
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Parser at construction time.
type Option func(*Parser)

// WithMetrics attaches a metrics recorder to the parser.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Parser) { p.metrics = m }
}

// WithLogger overrides the default service logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Parser) { p.log = log }
}

// New creates a parser with the given configuration. Zero-valued fields of
// cfg fall back to package defaults; only recognized configuration keys are
// copied, callers cannot smuggle foreign state into the parser.
func New(cfg conf.ParserSettings, opts ...Option) *Parser {
	applyConfigDefaults(&cfg)
	p := &Parser{
		cfg: cfg,
		log: logging.ForService("beatparser"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func applyConfigDefaults(cfg *conf.ParserSettings) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 2048
	}
	if cfg.HopSize <= 0 {
		cfg.HopSize = 512
	}
	if cfg.MinTempo <= 0 {
		cfg.MinTempo = 60
	}
	if cfg.MaxTempo <= 0 {
		cfg.MaxTempo = 180
	}
	if cfg.OnsetWeight == 0 {
		cfg.OnsetWeight = 1
	}
	if cfg.SpectralWeight == 0 {
		cfg.SpectralWeight = 1
	}
	if cfg.TempoWeight == 0 {
		cfg.TempoWeight = 1
	}
}

// Initialize freezes the configuration and runs plugin Initialize hooks in
// registration order. It is idempotent: calling it on an initialized parser
// is a no-op success. If any hook fails the parser stays unusable for
// parsing but its configuration remains readable.
func (p *Parser) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initializeLocked(ctx)
}

func (p *Parser) initializeLocked(ctx context.Context) error {
	switch p.state {
	case stateInitialized:
		return nil
	case stateCleaned:
		return errors.New(ErrParserCleaned).
			Component("beatparser").
			Category(errors.CategoryState).
			Build()
	}

	for _, plugin := range p.plugins {
		init, ok := plugin.(Initializer)
		if !ok {
			continue
		}
		if err := init.Initialize(ctx); err != nil {
			p.log.Error("plugin initialization failed",
				"plugin", plugin.Name(), "error", err)
			return newPluginError(plugin.Name(), "initialize", err)
		}
	}

	p.state = stateInitialized
	p.log.Debug("parser initialized",
		"plugins", len(p.plugins),
		"frame_size", p.cfg.FrameSize,
		"hop_size", p.cfg.HopSize)
	return nil
}

// Cleanup runs plugin Cleanup hooks in registration order and marks the
// parser cleaned. Every cleanup hook runs even if earlier ones fail; hook
// failures are logged and aggregated, never returned as a fatal error.
// Repeated calls resolve successfully without re-running hooks.
func (p *Parser) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateCleaned {
		return nil
	}

	for _, plugin := range p.plugins {
		cleaner, ok := plugin.(Cleaner)
		if !ok {
			continue
		}
		if err := cleaner.Cleanup(ctx); err != nil {
			p.log.Warn("plugin cleanup failed",
				"plugin", plugin.Name(), "error", err)
		}
	}

	p.state = stateCleaned
	return nil
}

// AddPlugin registers a plugin. It fails for plugins with empty name or
// version, for duplicate names, and after the parser has been initialized.
func (p *Parser) AddPlugin(plugin Plugin) error {
	if plugin == nil || plugin.Name() == "" || plugin.Version() == "" {
		return errors.New(ErrInvalidPlugin).
			Component("beatparser").
			Category(errors.CategoryPlugin).
			Build()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateUninitialized {
		return errors.New(ErrLateRegistration).
			Component("beatparser").
			Category(errors.CategoryPlugin).
			Context("plugin", plugin.Name()).
			Build()
	}

	for _, existing := range p.plugins {
		if existing.Name() == plugin.Name() {
			return errors.Newf("%w: %q", ErrDuplicatePlugin, plugin.Name()).
				Component("beatparser").
				Category(errors.CategoryPlugin).
				Context("plugin", plugin.Name()).
				Build()
		}
	}

	p.plugins = append(p.plugins, plugin)
	return nil
}

// RemovePlugin removes the plugin with the given name. Removing an absent
// plugin is a no-op; removal stays allowed after initialization.
func (p *Parser) RemovePlugin(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, plugin := range p.plugins {
		if plugin.Name() == name {
			p.plugins = append(p.plugins[:i], p.plugins[i+1:]...)
			return
		}
	}
}

// Plugins returns the registered plugins in registration order.
func (p *Parser) Plugins() []Plugin {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Plugin, len(p.plugins))
	copy(out, p.plugins)
	return out
}

// Config returns a copy of the parser configuration.
func (p *Parser) Config() conf.ParserSettings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// UpdateConfig replaces the configuration. It fails with ErrConfigLocked
// once the parser has been initialized.
func (p *Parser) UpdateConfig(cfg conf.ParserSettings) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateUninitialized {
		return errors.New(ErrConfigLocked).
			Component("beatparser").
			Category(errors.CategoryConfiguration).
			Build()
	}

	applyConfigDefaults(&cfg)
	p.cfg = cfg
	return nil
}

// snapshot returns the frozen configuration and plugin list for one parse
// call, initializing the parser first if needed.
func (p *Parser) snapshot(ctx context.Context) (conf.ParserSettings, []Plugin, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateUninitialized {
		if err := p.initializeLocked(ctx); err != nil {
			return conf.ParserSettings{}, nil, err
		}
	}
	if p.state == stateCleaned {
		return conf.ParserSettings{}, nil, errors.New(ErrParserCleaned).
			Component("beatparser").
			Category(errors.CategoryState).
			Build()
	}

	plugins := make([]Plugin, len(p.plugins))
	copy(plugins, p.plugins)
	return p.cfg, plugins, nil
}
