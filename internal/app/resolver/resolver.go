// Package resolver maps logical identifiers (tag URIs, catalog queries) to
// ordered lists of playable locations.
package resolver

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tagbox/internal/domain/media"
)

// ErrNotFound is returned when a resolver has nothing for an identifier.
var ErrNotFound = errors.New("nothing to play")

// Resolver is the interface for location resolvers.
type Resolver interface {
	// Resolve returns the playable locations for program, in play order.
	// hint is an optional artist name.
	Resolve(ctx context.Context, program, hint string) ([]string, error)

	// Name returns the resolver type name (used in config).
	Name() string
}

// AlbumLookup looks albums up in a streaming catalog.
type AlbumLookup interface {
	GetAlbum(ctx context.Context, albumID string) (*media.Album, error)
}

// AlbumSource finds albums and their tracks in a media server.
type AlbumSource interface {
	Resolve(ctx context.Context, title, artistHint string) ([]string, error)
}

// Key returns the registry key of an identifier: the part after the last
// colon, so "local:nihil" and "spotify:album:4aawy" map to "nihil" and "4aawy".
func Key(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if i := strings.LastIndex(identifier, ":"); i >= 0 {
		return identifier[i+1:]
	}
	return identifier
}
