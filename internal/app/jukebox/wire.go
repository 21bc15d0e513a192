package jukebox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/arbiter"
	"github.com/osa030/tagbox/internal/app/policy"
	"github.com/osa030/tagbox/internal/app/resolver"
	"github.com/osa030/tagbox/internal/infra/audio"
	"github.com/osa030/tagbox/internal/infra/config"
	"github.com/osa030/tagbox/internal/infra/nfc"
	"github.com/osa030/tagbox/internal/infra/plex"
	"github.com/osa030/tagbox/internal/infra/spotify"
)

// NewFromConfig builds every component from configuration and returns a
// manager ready to Start.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Manager, error) {
	chains, err := NewResolvers(ctx, cfg)
	if err != nil {
		return nil, err
	}

	gate, err := policy.NewChainFromConfig(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create policy chain")
	}

	components := Components{
		Sensor:    newSensor(cfg.Sensor),
		Transport: newTransport(cfg.Transport),
		Presence:  chains.Presence,
		Gate:      gate,
	}
	// A nil *Chain must not reach the arbiter as a non-nil interface
	if chains.Catalog != nil {
		components.Catalog = chains.Catalog
	}

	return NewManager(Config{
		Arbiter: arbiter.Config{
			ResolveTimeout:   time.Duration(cfg.Arbiter.ResolveTimeoutSec) * time.Second,
			TransportTimeout: time.Duration(cfg.Arbiter.TransportTimeoutSec) * time.Second,
			InitialVolume:    cfg.InitialVolume(),
		},
		Loop: arbiter.LoopConfig{
			Interval:     cfg.TickInterval(),
			DrainPerTick: cfg.Arbiter.DrainPerTick,
		},
		QueueCapacity: cfg.Arbiter.QueueCapacity,
	}, components), nil
}

// NewResolvers creates the catalog clients in use and the resolver chains.
func NewResolvers(ctx context.Context, cfg *config.Config) (*resolver.Chains, error) {
	deps := resolver.Deps{Library: cfg.Library}

	if uses(cfg.Resolvers, "plex") {
		client, err := plex.New(plex.Config{
			BaseURL: cfg.Plex.BaseURL,
			Token:   cfg.Plex.Token,
			Section: cfg.Plex.Section,
			Timeout: time.Duration(cfg.Plex.TimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create plex client")
		}
		deps.Plex = client
	}

	if uses(cfg.Resolvers, "spotify") {
		client, err := spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create spotify client")
		}
		deps.Spotify = client
	}

	chains, err := resolver.NewChainsFromConfig(cfg.Resolvers, deps)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resolvers")
	}
	return chains, nil
}

func uses(cfg config.ResolversConfig, typ string) bool {
	for _, list := range [][]config.ResolverConfig{cfg.Presence, cfg.Catalog} {
		for _, r := range list {
			if r.Type == typ {
				return true
			}
		}
	}
	return false
}

func newSensor(cfg config.SensorConfig) Sensor {
	switch cfg.Type {
	case "none":
		zlog.Info().Msg("jukebox: no tag reader configured")
		return nfc.NoSensor{}
	default:
		zlog.Info().Msgf("jukebox: tag reader: file=%s", cfg.Path)
		return nfc.NewFileSensor(cfg.Path)
	}
}

func newTransport(cfg config.TransportConfig) Transport {
	switch cfg.Type {
	case "log":
		zlog.Info().Msg("jukebox: using the logging transport, no audio output")
		return audio.NewLogTransport()
	default:
		return audio.NewPlayer(audio.Config{
			SampleRate:  cfg.SampleRate,
			Buffer:      time.Duration(cfg.BufferMs) * time.Millisecond,
			OpenTimeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second,
		})
	}
}
