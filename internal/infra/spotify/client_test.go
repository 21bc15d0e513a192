package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zmb3/spotify/v2"
)

func TestExtractAlbumID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Spotify URI format",
			input:    "spotify:album:4aawyAB9vmqN3uQ7FjRGTy",
			expected: "4aawyAB9vmqN3uQ7FjRGTy",
		},
		{
			name:     "Spotify URL format",
			input:    "https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy",
			expected: "4aawyAB9vmqN3uQ7FjRGTy",
		},
		{
			name:     "Spotify URL with query params",
			input:    "https://open.spotify.com/album/4aawyAB9vmqN3uQ7FjRGTy?si=abc123",
			expected: "4aawyAB9vmqN3uQ7FjRGTy",
		},
		{
			name:     "Localized URL",
			input:    "https://open.spotify.com/intl-ja/album/4aawyAB9vmqN3uQ7FjRGTy/",
			expected: "4aawyAB9vmqN3uQ7FjRGTy",
		},
		{
			name:     "Plain album ID",
			input:    " 4aawyAB9vmqN3uQ7FjRGTy ",
			expected: "4aawyAB9vmqN3uQ7FjRGTy",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractAlbumID(tt.input)
			assert.Equal(t, tt.expected, result,
				"ExtractAlbumID(%s) should return %s", tt.input, tt.expected)
		})
	}
}

func TestIsAlbumReference(t *testing.T) {
	assert.True(t, IsAlbumReference("spotify:album:abc"))
	assert.True(t, IsAlbumReference("https://open.spotify.com/album/abc"))
	assert.False(t, IsAlbumReference("spotify:track:abc"))
	assert.False(t, IsAlbumReference("local:nihil"))
	assert.False(t, IsAlbumReference("Nihil"))
}

func TestClient_GetAlbum(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/albums/4aawyAB9vmqN3uQ7FjRGTy", r.URL.Path)
		assert.Equal(t, "JP", r.URL.Query().Get("market"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "4aawyAB9vmqN3uQ7FjRGTy",
			"name": "Nihil",
			"artists": [{"name": "KMFDM"}],
			"release_date": "1995-04-01",
			"release_date_precision": "day",
			"tracks": {"total": 11, "items": []}
		}`))
	}))
	defer server.Close()

	c := newClient(server.Client(), "JP", spotify.WithBaseURL(server.URL+"/"))

	album, err := c.GetAlbum(context.Background(), "spotify:album:4aawyAB9vmqN3uQ7FjRGTy")
	require.NoError(t, err)
	assert.Equal(t, "4aawyAB9vmqN3uQ7FjRGTy", album.ID)
	assert.Equal(t, "Nihil", album.Title)
	assert.Equal(t, "KMFDM", album.Artist)
	assert.Equal(t, 1995, album.Year)
	assert.Equal(t, 11, album.Tracks)
	assert.Equal(t, "spotify", album.Catalog)
}

func TestClient_GetAlbumNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"status": 404, "message": "non existing id"}}`))
	}))
	defer server.Close()

	c := newClient(server.Client(), "", spotify.WithBaseURL(server.URL+"/"))
	_, err := c.GetAlbum(context.Background(), "missing")
	assert.Error(t, err)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "id"})
	assert.Error(t, err)

	c, err := New(context.Background(), Config{ClientID: "id", ClientSecret: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "US", c.market)
}

func TestClient_Retry(t *testing.T) {
	c := &Client{maxRetries: 3, retryDelay: time.Millisecond}

	calls := 0
	err := c.retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("503 Service Unavailable")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = c.retry(context.Background(), func() error {
		calls++
		return errors.New("400 Bad Request")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "non retryable errors return immediately")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "rate limit error with 429",
			err:      errors.New("Error 429: rate limit exceeded"),
			expected: true,
		},
		{
			name:     "rate limit text",
			err:      errors.New("rate limit exceeded"),
			expected: true,
		},
		{
			name:     "server error 500",
			err:      errors.New("Error 500: internal server error"),
			expected: true,
		},
		{
			name:     "server error 502",
			err:      errors.New("502 Bad Gateway"),
			expected: true,
		},
		{
			name:     "server error 503",
			err:      errors.New("503 Service Unavailable"),
			expected: true,
		},
		{
			name:     "server error 504",
			err:      errors.New("504 Gateway Timeout"),
			expected: true,
		},
		{
			name:     "client error 400",
			err:      errors.New("400 Bad Request"),
			expected: false,
		},
		{
			name:     "not found error",
			err:      errors.New("404 not found"),
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("something went wrong"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryable(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
