package beatparser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/beatscan/beatscan-go/internal/errors"
	"github.com/beatscan/beatscan-go/internal/model"
)

// Plugin is an extension unit. Name must be non-empty and unique within one
// parser instance; Version must be non-empty. The processing hooks are
// optional capabilities discovered through interface assertions.
type Plugin interface {
	Name() string
	Version() string
}

// Initializer is implemented by plugins that need setup before parsing.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// AudioProcessor is implemented by plugins that observe or transform the raw
// sample buffer before frame analysis. Hooks form a transform chain: each
// receives the previous hook's output.
type AudioProcessor interface {
	ProcessAudio(ctx context.Context, samples []float64) ([]float64, error)
}

// BeatProcessor is implemented by plugins that observe or transform the
// selected beat sequence after selection.
type BeatProcessor interface {
	ProcessBeats(ctx context.Context, beats []model.Beat) ([]model.Beat, error)
}

// Cleaner is implemented by plugins that hold resources to release.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// Sentinel errors for plugin registration
var (
	ErrInvalidPlugin    = errors.NewStd("plugin must have a non-empty name and version")
	ErrDuplicatePlugin  = errors.NewStd("plugin is already registered")
	ErrLateRegistration = errors.NewStd("Cannot add plugins after parser initialization")
)

// PluginError wraps a failure from a plugin hook with the plugin's name.
// The underlying message is sanitized so plugin failures cannot leak process
// state such as environment values or absolute paths.
type PluginError struct {
	Plugin string
	Hook   string
	Err    error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %q %s hook failed: %s", e.Plugin, e.Hook, sanitizeMessage(e.Err.Error()))
}

func (e *PluginError) Unwrap() error { return e.Err }

// ErrorCategory lets the errors package classify plugin failures.
func (e *PluginError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryPlugin
}

func newPluginError(plugin, hook string, err error) error {
	return errors.New(&PluginError{Plugin: plugin, Hook: hook, Err: err}).
		Component("beatparser").
		Category(errors.CategoryPlugin).
		Context("plugin", plugin).
		Context("hook", hook).
		Build()
}

var absolutePathPattern = regexp.MustCompile(`(?:[A-Za-z]:)?(?:/|\\)[^\s"']{2,}`)

// sanitizeMessage strips values that would leak process state from an error
// message produced by third-party plugin code.
func sanitizeMessage(msg string) string {
	for _, kv := range os.Environ() {
		idx := strings.IndexByte(kv, '=')
		if idx < 0 {
			continue
		}
		value := kv[idx+1:]
		if len(value) >= 8 && strings.Contains(msg, value) {
			msg = strings.ReplaceAll(msg, value, "[redacted]")
		}
	}
	return absolutePathPattern.ReplaceAllString(msg, "[path]")
}
