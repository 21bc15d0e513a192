// Package policy provides the policy chain consulted before each transition.
package policy

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/tagbox/internal/app/arbiter"
	"github.com/osa030/tagbox/internal/domain/event"
)

// Result represents the result of a policy check.
type Result struct {
	Allowed bool
	Code    string // e.g., "pause_locked", "volume_limit_exceeded"
}

// Allow returns an allowing result.
func Allow() Result {
	return Result{Allowed: true}
}

// Deny returns a denying result with the given code.
func Deny(code string) Result {
	return Result{Allowed: false, Code: code}
}

// Policy is the interface for event policies.
type Policy interface {
	// Name returns the policy name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this policy can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the policy settings.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this policy should be consulted for the given origin.
	AppliesTo(origin event.Origin) bool
	// Check decides whether ev may be applied in the given status.
	Check(ev event.Event, status arbiter.Status) Result
}

// registry holds registered policy factories.
var registry = make(map[string]func() Policy)

// Register registers a policy factory.
func Register(name string, factory func() Policy) {
	registry[name] = factory
}

// GetRegistered returns all registered policy factories.
func GetRegistered() map[string]func() Policy {
	return registry
}

// Names returns the registered policy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeSettings decodes, defaults and validates a settings map into config.
func decodeSettings(settings map[string]any, config any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           config,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
