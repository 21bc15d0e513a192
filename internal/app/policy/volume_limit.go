package policy

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/arbiter"
	"github.com/osa030/tagbox/internal/domain/event"
)

// VolumeLimitConfig represents the configuration for VolumeLimitPolicy.
type VolumeLimitConfig struct {
	Min int `yaml:"min" mapstructure:"min" validate:"gte=0,lte=100"`
	Max int `yaml:"max" mapstructure:"max" default:"80" validate:"gte=1,lte=100"`
}

// VolumeLimitPolicy refuses remote volume changes outside a range.
type VolumeLimitPolicy struct {
	config *VolumeLimitConfig
}

// NewVolumeLimitPolicy creates a new volume limit policy.
func NewVolumeLimitPolicy() *VolumeLimitPolicy {
	return &VolumeLimitPolicy{}
}

func (p *VolumeLimitPolicy) Name() string {
	return "volume_limit"
}

func (p *VolumeLimitPolicy) Description() string {
	return "Refuses remote volume changes outside the configured range"
}

func (p *VolumeLimitPolicy) ReturnCodes() []string {
	return []string{"volume_limit_exceeded"}
}

func (p *VolumeLimitPolicy) ValidateConfig(settings map[string]any) error {
	var config VolumeLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}

	// Custom validation: min cannot be greater than max
	if config.Min > config.Max {
		return errors.New("min cannot be greater than max")
	}
	p.config = &config
	zlog.Info().Msgf("volume limit policy config: %+v", config)
	return nil
}

func (p *VolumeLimitPolicy) AppliesTo(origin event.Origin) bool {
	return origin == event.OriginRemote
}

func (p *VolumeLimitPolicy) Check(ev event.Event, status arbiter.Status) Result {
	// If config is not set, allow everything
	if p.config == nil || ev.Kind != event.KindSetVolume {
		return Allow()
	}

	v := ev.Payload.Volume
	if v < p.config.Min || v > p.config.Max {
		return Deny("volume_limit_exceeded")
	}
	return Allow()
}

func init() {
	Register("volume_limit", func() Policy {
		return NewVolumeLimitPolicy()
	})
}
