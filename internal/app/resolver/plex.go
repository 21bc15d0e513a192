package resolver

import (
	"context"
	"strings"
)

// Plex resolves album titles against a media server.
type Plex struct {
	source AlbumSource
}

// NewPlex creates a Plex resolver.
func NewPlex(source AlbumSource) *Plex {
	return &Plex{source: source}
}

// Name returns the resolver type name.
func (p *Plex) Name() string {
	return "plex"
}

// Resolve treats the identifier as an album title. A "plex:" prefix is
// accepted and removed.
func (p *Plex) Resolve(ctx context.Context, program, hint string) ([]string, error) {
	title := strings.TrimSpace(strings.TrimPrefix(program, "plex:"))
	return p.source.Resolve(ctx, title, hint)
}
