// Package media provides the catalog entities used by resolvers.
package media

import (
	"path"
	"strings"
)

// Album represents an album found in a catalog.
type Album struct {
	ID      string // Catalog specific key
	Title   string
	Artist  string
	Year    int
	Tracks  int
	Catalog string // Which catalog the album came from ("plex", "spotify")
}

// Location is a playable location: a file path or a stream URL.
type Location = string

// supportedExtensions lists the audio containers the transport can decode.
var supportedExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".wav":  true,
	".ogg":  true,
}

// IsPlayable reports whether the location looks like a decodable audio file.
// Query strings are ignored so stream URLs with tokens are accepted.
func IsPlayable(loc Location) bool {
	if i := strings.IndexAny(loc, "?#"); i >= 0 && isURL(loc) {
		loc = loc[:i]
	}
	return supportedExtensions[strings.ToLower(path.Ext(loc))]
}

// Extension returns the lowercase extension of a location, ignoring any query.
func Extension(loc Location) string {
	if i := strings.IndexAny(loc, "?#"); i >= 0 && isURL(loc) {
		loc = loc[:i]
	}
	return strings.ToLower(path.Ext(loc))
}

// IsRemote reports whether the location is an HTTP stream.
func IsRemote(loc Location) bool {
	return isURL(loc)
}

func isURL(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}
