package resolver

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/infra/config"
)

// Deps are the clients resolvers are built on. Nil clients are fine as long
// as no configured resolver needs them.
type Deps struct {
	Library config.LibraryConfig
	Plex    AlbumSource
	Spotify AlbumLookup
}

// Chains holds the resolver chain of each resolving origin.
type Chains struct {
	Presence *Chain
	Catalog  *Chain // nil when no catalog resolver is configured
}

// NewChainsFromConfig creates the presence and catalog chains. The catalog
// chain is built first since Spotify resolvers delegate to it.
func NewChainsFromConfig(cfg config.ResolversConfig, deps Deps) (*Chains, error) {
	if len(cfg.Presence) == 0 {
		return nil, errors.New("no presence resolvers configured")
	}

	chains := &Chains{}
	if len(cfg.Catalog) > 0 {
		catalog, err := newChain("catalog", cfg.Catalog, deps, nil)
		if err != nil {
			return nil, err
		}
		chains.Catalog = catalog
	}

	presence, err := newChain("presence", cfg.Presence, deps, chains.Catalog)
	if err != nil {
		return nil, err
	}
	chains.Presence = presence
	return chains, nil
}

func newChain(origin string, cfgs []config.ResolverConfig, deps Deps, catalog *Chain) (*Chain, error) {
	var resolvers []Named

	for i, rcfg := range cfgs {
		var r Resolver
		zlog.Debug().Msgf("creating resolver: origin=%s index=%d type=%s", origin, i+1, rcfg.Type)

		switch rcfg.Type {
		case "local":
			r = NewLocal(deps.Library.Root, deps.Library.Albums)

		case "plex":
			if deps.Plex == nil {
				return nil, errors.Newf("plex resolver configured without a plex client (%s index %d)", origin, i)
			}
			r = NewPlex(deps.Plex)

		case "spotify":
			if deps.Spotify == nil {
				return nil, errors.Newf("spotify resolver configured without a spotify client (%s index %d)", origin, i)
			}
			if catalog == nil {
				return nil, errors.Newf("spotify resolver needs a catalog chain to play from (%s index %d)", origin, i)
			}
			r = NewSpotify(deps.Spotify, catalog)

		default:
			return nil, errors.Newf("unsupported resolver type: %s (%s index %d)", rcfg.Type, origin, i)
		}

		name := rcfg.DisplayName
		if name == "" {
			name = r.Name()
		}
		resolvers = append(resolvers, Named{Resolver: r, DisplayName: name})

		zlog.Info().Msgf("registered resolver: origin=%s index=%d type=%s display_name=%s", origin, i+1, rcfg.Type, name)
	}

	return NewChain(resolvers), nil
}
