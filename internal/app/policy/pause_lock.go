package policy

import (
	"github.com/osa030/tagbox/internal/app/arbiter"
	"github.com/osa030/tagbox/internal/domain/event"
)

// PauseLockConfig represents the configuration for PauseLockPolicy.
type PauseLockConfig struct {
	// IncludeTags also holds tag starts while paused from the remote.
	IncludeTags bool `yaml:"include_tags" mapstructure:"include_tags"`
}

// PauseLockPolicy keeps a remote pause in place: catalog starts are refused
// until the remote resumes or stops playback.
type PauseLockPolicy struct {
	config PauseLockConfig
}

func (p *PauseLockPolicy) Name() string {
	return "pause_lock"
}

func (p *PauseLockPolicy) Description() string {
	return "Refuses catalog starts while playback is paused from the remote"
}

func (p *PauseLockPolicy) ReturnCodes() []string {
	return []string{"pause_locked"}
}

func (p *PauseLockPolicy) ValidateConfig(settings map[string]any) error {
	var config PauseLockConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	p.config = config
	return nil
}

func (p *PauseLockPolicy) AppliesTo(origin event.Origin) bool {
	switch origin {
	case event.OriginCatalog:
		return true
	case event.OriginPresence:
		return p.config.IncludeTags
	default:
		return false
	}
}

func (p *PauseLockPolicy) Check(ev event.Event, status arbiter.Status) Result {
	if ev.Kind == event.KindStart && status.RemotePaused {
		return Deny("pause_locked")
	}
	return Allow()
}

func init() {
	Register("pause_lock", func() Policy {
		return &PauseLockPolicy{}
	})
}
