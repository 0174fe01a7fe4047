package unitwork

import (
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Options configure a unit of work. The zero value is the strict default:
// a failing record aborts the commit and registering the same record twice
// is an error.
type Options struct {
	// AllowPartialSuccess lets a commit continue past failing records.
	// Records depending on a failed one still fail with an
	// UNRESOLVED_DEPENDENCY error instead of being dispatched.
	AllowPartialSuccess bool `yaml:"allow_partial_success"`

	// CombineOnDuplicate folds repeated registrations of the same record
	// into one, later field values winning, instead of rejecting them.
	CombineOnDuplicate bool `yaml:"combine_on_duplicate"`

	// PermissionMode and SharingMode are passed through to the backend
	// verbatim. Their interpretation is backend-specific.
	PermissionMode string `yaml:"permission_mode"`
	SharingMode    string `yaml:"sharing_mode"`

	// Logger receives debug-level dispatch traces. Defaults to a no-op.
	Logger *zap.Logger `yaml:"-"`
}

// Option configures a unit of work at construction.
type Option func(*Options)

// AllowPartialSuccess lets a commit continue past failing records.
func AllowPartialSuccess() Option {
	return func(o *Options) { o.AllowPartialSuccess = true }
}

// CombineOnDuplicate folds repeated registrations of the same record into
// one instead of rejecting them.
func CombineOnDuplicate() Option {
	return func(o *Options) { o.CombineOnDuplicate = true }
}

// WithPermissionMode sets the backend permission mode.
func WithPermissionMode(mode string) Option {
	return func(o *Options) { o.PermissionMode = mode }
}

// WithSharingMode sets the backend sharing mode.
func WithSharingMode(mode string) Option {
	return func(o *Options) { o.SharingMode = mode }
}

// WithLogger sets the logger used for dispatch traces.
func WithLogger(log *zap.Logger) Option {
	return func(o *Options) { o.Logger = log }
}

// WithOptions applies a complete Options value, typically one loaded with
// OptionsFromYAML. A nil Logger keeps the one already configured.
func WithOptions(src Options) Option {
	return func(o *Options) {
		log := o.Logger
		*o = src
		if o.Logger == nil {
			o.Logger = log
		}
	}
}

// OptionsFromYAML decodes Options from YAML configuration.
func OptionsFromYAML(data []byte) (Options, error) {
	var o Options
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("unitwork: decoding options: %w", err)
	}
	return o, nil
}
