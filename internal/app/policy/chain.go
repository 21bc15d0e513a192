package policy

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/app/arbiter"
	"github.com/osa030/tagbox/internal/domain/event"
	"github.com/osa030/tagbox/internal/infra/config"
)

// Chain executes policies in sequence. It implements arbiter.Gate.
type Chain struct {
	policies []Policy
}

// NewChain creates a new policy chain.
func NewChain() *Chain {
	return &Chain{
		policies: make([]Policy, 0),
	}
}

// NewChainFromConfig builds a chain of the enabled policies, in name order.
func NewChainFromConfig(cfg *config.Config) (*Chain, error) {
	chain := NewChain()

	for name := range cfg.Policies {
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown policy: %s", name)
		}
	}

	for _, name := range Names() {
		if !cfg.IsPolicyEnabled(name) {
			continue
		}
		p := registry[name]()
		if err := p.ValidateConfig(cfg.PolicySettings(name)); err != nil {
			return nil, errors.Wrapf(err, "policy %s", name)
		}
		chain.Add(p)
		zlog.Info().Msgf("policy enabled: name=%s", name)
	}
	return chain, nil
}

// Add adds a policy to the chain.
func (c *Chain) Add(p Policy) {
	c.policies = append(c.policies, p)
}

// Execute runs all policies in sequence.
// Returns immediately if any policy denies the event.
// Policies are only consulted if they declare they apply to the event origin.
func (c *Chain) Execute(ev event.Event, status arbiter.Status) Result {
	for _, p := range c.policies {
		if !p.AppliesTo(ev.Origin) {
			continue
		}

		result := p.Check(ev, status)
		if !result.Allowed {
			return result
		}
	}
	return Allow()
}

// Allow implements arbiter.Gate.
func (c *Chain) Allow(ev event.Event, status arbiter.Status) (bool, string) {
	result := c.Execute(ev, status)
	return result.Allowed, result.Code
}

// Policies returns all policies in the chain.
func (c *Chain) Policies() []Policy {
	return c.policies
}
