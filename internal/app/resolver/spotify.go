package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/infra/spotify"
)

// Spotify resolves Spotify album links by looking the album title and artist
// up on Spotify and playing the same album from the catalog.
type Spotify struct {
	lookup  AlbumLookup
	catalog AlbumSource
}

// NewSpotify creates a Spotify resolver.
func NewSpotify(lookup AlbumLookup, catalog AlbumSource) *Spotify {
	return &Spotify{lookup: lookup, catalog: catalog}
}

// Name returns the resolver type name.
func (s *Spotify) Name() string {
	return "spotify"
}

// Resolve handles spotify:album: URIs and open.spotify.com album links only.
func (s *Spotify) Resolve(ctx context.Context, program, hint string) ([]string, error) {
	if !spotify.IsAlbumReference(program) {
		return nil, errors.Wrapf(ErrNotFound, "%q is not a spotify album", program)
	}

	album, err := s.lookup.GetAlbum(ctx, program)
	if err != nil {
		return nil, err
	}

	artist := album.Artist
	if hint != "" {
		artist = hint
	}
	zlog.Info().Msgf("spotify: album identified: title=%s artist=%s", album.Title, artist)

	return s.catalog.Resolve(ctx, album.Title, artist)
}
