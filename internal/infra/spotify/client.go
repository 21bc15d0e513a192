// Package spotify provides a client for the Spotify Web API, used to turn
// album links stored on tags into a title and artist.
package spotify

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/tagbox/internal/domain/media"
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
}

// New creates a new Spotify client authenticated with the client credentials
// flow. Album lookups need no user scopes.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	// HTTP client with auto-refresh capability
	return newClient(creds.Client(ctx), cfg.Market), nil
}

func newClient(httpClient *http.Client, market string, opts ...spotify.ClientOption) *Client {
	if market == "" {
		market = "US"
	}
	return &Client{
		client:     spotify.New(httpClient, opts...),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// GetAlbum retrieves album information by ID, URL, or URI.
func (c *Client) GetAlbum(ctx context.Context, albumID string) (*media.Album, error) {
	id := ExtractAlbumID(albumID)
	if id == "" {
		return nil, errors.Newf("invalid album reference: %q", albumID)
	}

	var result *spotify.FullAlbum
	err := c.retry(ctx, func() error {
		a, err := c.client.GetAlbum(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get album")
	}

	return convertAlbum(result), nil
}

// convertAlbum converts a Spotify FullAlbum to a domain Album.
func convertAlbum(a *spotify.FullAlbum) *media.Album {
	artists := make([]string, len(a.Artists))
	for i, artist := range a.Artists {
		artists[i] = artist.Name
	}

	var year int
	if len(a.ReleaseDate) >= 4 {
		year, _ = strconv.Atoi(a.ReleaseDate[:4])
	}

	return &media.Album{
		ID:      string(a.ID),
		Title:   a.Name,
		Artist:  strings.Join(artists, ", "),
		Year:    year,
		Tracks:  int(a.Tracks.Total),
		Catalog: "spotify",
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// IsAlbumReference reports whether input names a Spotify album.
func IsAlbumReference(input string) bool {
	input = strings.TrimSpace(input)
	return strings.HasPrefix(input, "spotify:album:") ||
		(strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/album/"))
}

// ExtractAlbumID extracts the album ID from a Spotify album URL or URI.
func ExtractAlbumID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:album:ALBUM_ID
	if strings.HasPrefix(input, "spotify:album:") {
		return strings.TrimPrefix(input, "spotify:album:")
	}

	// Handle URL format: https://open.spotify.com/album/ALBUM_ID or https://open.spotify.com/intl-XX/album/ALBUM_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/album/") {
		parts := strings.Split(input, "/album/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already an album ID
	return input
}
