package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// Named wraps a resolver with its display name.
type Named struct {
	Resolver    Resolver
	DisplayName string
}

// Chain tries resolvers in order until one returns locations.
type Chain struct {
	resolvers []Named
}

// NewChain creates a new resolver chain.
func NewChain(resolvers []Named) *Chain {
	return &Chain{
		resolvers: resolvers,
	}
}

// Resolve returns the locations of the first resolver with a non-empty
// result. Failing resolvers are logged and skipped.
func (c *Chain) Resolve(ctx context.Context, program, hint string) ([]string, error) {
	for i, r := range c.resolvers {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "resolution abandoned")
		}

		zlog.Debug().Msgf("trying resolver: index=%d total=%d name=%s resolver_type=%s",
			i+1, len(c.resolvers), r.DisplayName, r.Resolver.Name())

		locations, err := r.Resolver.Resolve(ctx, program, hint)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				zlog.Debug().Msgf("resolver has nothing: resolver=%s program=%s", r.DisplayName, program)
			} else {
				zlog.Warn().Msgf("resolver failed, trying next: resolver=%s error=%v", r.DisplayName, err)
			}
			continue
		}

		if len(locations) == 0 {
			zlog.Debug().Msgf("resolver returned no locations: resolver=%s", r.DisplayName)
			continue
		}

		zlog.Info().Msgf("resolver returned locations: resolver=%s program=%s count=%d",
			r.DisplayName, program, len(locations))
		return locations, nil
	}

	return nil, errors.Wrapf(ErrNotFound, "no resolver could resolve %q", program)
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return "chain"
}

// Resolvers returns the resolvers in the chain.
func (c *Chain) Resolvers() []Named {
	return c.resolvers
}
