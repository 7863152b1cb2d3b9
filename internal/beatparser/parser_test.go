package beatparser

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatscan/beatscan-go/internal/conf"
	"github.com/beatscan/beatscan-go/internal/errors"
	"github.com/beatscan/beatscan-go/internal/model"
)

// testPlugin implements every hook; nil funcs behave as pass-through.
type testPlugin struct {
	name    string
	version string

	initFn    func(ctx context.Context) error
	audioFn   func(ctx context.Context, samples []float64) ([]float64, error)
	beatsFn   func(ctx context.Context, beats []model.Beat) ([]model.Beat, error)
	cleanupFn func(ctx context.Context) error
}

func (p *testPlugin) Name() string    { return p.name }
func (p *testPlugin) Version() string { return p.version }

func (p *testPlugin) Initialize(ctx context.Context) error {
	if p.initFn == nil {
		return nil
	}
	return p.initFn(ctx)
}

func (p *testPlugin) ProcessAudio(ctx context.Context, samples []float64) ([]float64, error) {
	if p.audioFn == nil {
		return samples, nil
	}
	return p.audioFn(ctx, samples)
}

func (p *testPlugin) ProcessBeats(ctx context.Context, beats []model.Beat) ([]model.Beat, error) {
	if p.beatsFn == nil {
		return beats, nil
	}
	return p.beatsFn(ctx, beats)
}

func (p *testPlugin) Cleanup(ctx context.Context) error {
	if p.cleanupFn == nil {
		return nil
	}
	return p.cleanupFn(ctx)
}

func TestInitializeIdempotent(t *testing.T) {
	t.Parallel()

	initCalls := 0
	p := New(conf.ParserSettings{})
	require.NoError(t, p.AddPlugin(&testPlugin{
		name: "counter", version: "1.0.0",
		initFn: func(context.Context) error {
			initCalls++
			return nil
		},
	}))

	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Initialize(ctx))

	assert.Equal(t, 1, initCalls, "initialize hooks must run exactly once")
}

func TestCleanupIdempotent(t *testing.T) {
	t.Parallel()

	cleanupCalls := 0
	p := New(conf.ParserSettings{})
	require.NoError(t, p.AddPlugin(&testPlugin{
		name: "counter", version: "1.0.0",
		cleanupFn: func(context.Context) error {
			cleanupCalls++
			return nil
		},
	}))

	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Cleanup(ctx))
	require.NoError(t, p.Cleanup(ctx))

	assert.Equal(t, 1, cleanupCalls, "cleanup hooks must run exactly once")
}

func TestCleanupRunsAllHooksDespiteFailures(t *testing.T) {
	t.Parallel()

	var order []string
	mk := func(name string, fail bool) *testPlugin {
		return &testPlugin{
			name: name, version: "1.0.0",
			cleanupFn: func(context.Context) error {
				order = append(order, name)
				if fail {
					return errors.NewStd("release failed")
				}
				return nil
			},
		}
	}

	p := New(conf.ParserSettings{})
	require.NoError(t, p.AddPlugin(mk("a", false)))
	require.NoError(t, p.AddPlugin(mk("b", true)))
	require.NoError(t, p.AddPlugin(mk("c", false)))

	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Cleanup(ctx), "cleanup hook failures are not fatal")
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestInitializeHookFailureLeavesParserUnusable(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	require.NoError(t, p.AddPlugin(&testPlugin{
		name: "broken", version: "1.0.0",
		initFn: func(context.Context) error {
			return errors.NewStd("device unavailable")
		},
	}))

	ctx := context.Background()
	err := p.Initialize(ctx)
	require.Error(t, err)

	var pluginErr *PluginError
	require.ErrorAs(t, err, &pluginErr)
	assert.Equal(t, "broken", pluginErr.Plugin)

	// A parse attempt re-runs initialization and fails the same way.
	_, err = p.ParseBuffer(ctx, make([]float64, 4096), model.ParseOptions{})
	require.Error(t, err)
	require.ErrorAs(t, err, &pluginErr)
}

func TestAddPluginValidation(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})

	require.ErrorIs(t, p.AddPlugin(nil), ErrInvalidPlugin)
	require.ErrorIs(t, p.AddPlugin(&testPlugin{name: "", version: "1.0.0"}), ErrInvalidPlugin)
	require.ErrorIs(t, p.AddPlugin(&testPlugin{name: "p", version: ""}), ErrInvalidPlugin)
}

func TestAddPluginDuplicateName(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	require.NoError(t, p.AddPlugin(&testPlugin{name: "p", version: "1.0.0"}))

	err := p.AddPlugin(&testPlugin{name: "p", version: "2.0.0"})
	require.ErrorIs(t, err, ErrDuplicatePlugin)
	assert.Contains(t, err.Error(), "already registered")
}

func TestAddPluginAfterInitialize(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	require.NoError(t, p.Initialize(context.Background()))

	err := p.AddPlugin(&testPlugin{name: "late", version: "1.0.0"})
	require.ErrorIs(t, err, ErrLateRegistration)
	assert.Contains(t, err.Error(), "Cannot add plugins after parser initialization")
}

func TestRemovePlugin(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	require.NoError(t, p.AddPlugin(&testPlugin{name: "a", version: "1.0.0"}))
	require.NoError(t, p.AddPlugin(&testPlugin{name: "b", version: "1.0.0"}))

	// Removing an absent plugin is a no-op.
	p.RemovePlugin("missing")
	require.Len(t, p.Plugins(), 2)

	p.RemovePlugin("a")
	plugins := p.Plugins()
	require.Len(t, plugins, 1)
	assert.Equal(t, "b", plugins[0].Name())

	// Removal stays allowed after initialization.
	require.NoError(t, p.Initialize(context.Background()))
	p.RemovePlugin("b")
	assert.Empty(t, p.Plugins())
}

func TestUpdateConfigLockedAfterInitialize(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	require.NoError(t, p.UpdateConfig(conf.ParserSettings{FrameSize: 4096}))
	assert.Equal(t, 4096, p.Config().FrameSize)

	require.NoError(t, p.Initialize(context.Background()))
	err := p.UpdateConfig(conf.ParserSettings{FrameSize: 1024})
	require.ErrorIs(t, err, ErrConfigLocked)
	assert.Equal(t, 4096, p.Config().FrameSize, "locked config must not change")
}

func TestParseAfterCleanupFails(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	ctx := context.Background()
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Cleanup(ctx))

	_, err := p.ParseBuffer(ctx, make([]float64, 4096), model.ParseOptions{})
	require.ErrorIs(t, err, ErrParserCleaned)
}

func TestPluginFailureIsolatedPerInstance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	samples := make([]float64, 4096)
	for i := range samples {
		samples[i] = 0.1
	}

	broken := New(conf.ParserSettings{})
	require.NoError(t, broken.AddPlugin(&testPlugin{
		name: "bomb", version: "1.0.0",
		audioFn: func(context.Context, []float64) ([]float64, error) {
			return nil, errors.NewStd("boom")
		},
	}))

	healthy := New(conf.ParserSettings{})

	_, err := broken.ParseBuffer(ctx, samples, model.ParseOptions{})
	require.Error(t, err)

	result, err := healthy.ParseBuffer(ctx, samples, model.ParseOptions{})
	require.NoError(t, err, "one parser's plugin failure must not affect another instance")
	require.NotNil(t, result)
}

func TestPluginPanicBecomesError(t *testing.T) {
	t.Parallel()

	p := New(conf.ParserSettings{})
	require.NoError(t, p.AddPlugin(&testPlugin{
		name: "panicker", version: "1.0.0",
		audioFn: func(context.Context, []float64) ([]float64, error) {
			panic("unexpected state")
		},
	}))

	_, err := p.ParseBuffer(context.Background(), make([]float64, 4096), model.ParseOptions{})
	require.Error(t, err)

	var pluginErr *PluginError
	require.ErrorAs(t, err, &pluginErr)
	assert.Equal(t, "panicker", pluginErr.Plugin)
	assert.Contains(t, err.Error(), "panic")
}

func TestPluginErrorMessageSanitized(t *testing.T) {
	t.Setenv("BEATSCAN_TEST_SECRET", "hunter2hunter2")

	pe := &PluginError{
		Plugin: "leaky",
		Hook:   "processAudio",
		Err:    fmt.Errorf("cannot open /home/user/music/track.wav with key hunter2hunter2"),
	}

	msg := pe.Error()
	assert.NotContains(t, msg, "hunter2hunter2")
	assert.NotContains(t, msg, "/home/user/music/track.wav")
	assert.Contains(t, msg, "[redacted]")
	assert.Contains(t, msg, "[path]")
	assert.Contains(t, msg, `plugin "leaky"`)
}
