package plex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sectionsJSON = `{"MediaContainer":{"Directory":[
	{"key":"3","title":"Movies","type":"movie"},
	{"key":"7","title":"Music","type":"artist"}
]}}`

const searchJSON = `{"MediaContainer":{"Metadata":[
	{"ratingKey":"100","title":"Greatest Hits","parentTitle":"Queen","year":1981,"leafCount":17},
	{"ratingKey":"200","title":"Greatest Hits","parentTitle":"Beyoncé","year":2010,"leafCount":12},
	{"ratingKey":"300","title":"Greatest Hits","parentTitle":"Bob Marley & The Wailers","year":1984,"leafCount":14}
]}}`

const childrenJSON = `{"MediaContainer":{"Metadata":[
	{"title":"B1","index":1,"parentIndex":2,"Media":[{"Part":[{"key":"/library/parts/21/file.flac","container":"flac"}]}]},
	{"title":"A2","index":2,"parentIndex":1,"Media":[{"Part":[{"key":"/library/parts/12/file.mp3","container":"mp3"}]}]},
	{"title":"A1","index":1,"parentIndex":1,"Media":[{"Part":[{"key":"/library/parts/11/file.mp3","container":"mp3"}]}]},
	{"title":"Video","index":3,"parentIndex":1,"Media":[{"Part":[{"key":"/library/parts/13/file.m4a","container":"mp4"}]}]},
	{"title":"Missing","index":4,"parentIndex":1}
]}}`

func newTestServer(t *testing.T, sectionCalls *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Plex-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/library/sections":
			if sectionCalls != nil {
				atomic.AddInt32(sectionCalls, 1)
			}
			_, _ = w.Write([]byte(sectionsJSON))
		case "/library/sections/7/search":
			assert.Equal(t, "9", r.URL.Query().Get("type"))
			if r.URL.Query().Get("title") != "Greatest Hits" {
				_, _ = w.Write([]byte(`{"MediaContainer":{}}`))
				return
			}
			_, _ = w.Write([]byte(searchJSON))
		case "/library/metadata/200/children":
			_, _ = w.Write([]byte(childrenJSON))
		default:
			http.NotFound(w, r)
		}
	}))
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	c, err := New(Config{BaseURL: server.URL + "/", Token: "secret"})
	require.NoError(t, err)
	return c
}

func TestClient_FindAlbum(t *testing.T) {
	server := newTestServer(t, nil)
	defer server.Close()
	c := newTestClient(t, server)

	tests := []struct {
		name string
		hint string
		want string
	}{
		{name: "no hint takes the first", hint: "", want: "100"},
		{name: "accent insensitive", hint: "beyonce", want: "200"},
		{name: "partial match", hint: "Bob Marley", want: "300"},
		{name: "no match falls back to first", hint: "ABBA", want: "100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			album, err := c.FindAlbum(context.Background(), "Greatest Hits", tt.hint)
			require.NoError(t, err)
			assert.Equal(t, tt.want, album.ID)
			assert.Equal(t, "plex", album.Catalog)
		})
	}
}

func TestClient_FindAlbumNotFound(t *testing.T) {
	server := newTestServer(t, nil)
	defer server.Close()

	_, err := newTestClient(t, server).FindAlbum(context.Background(), "Nihil", "KMFDM")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlbumNotFound))
}

func TestClient_Resolve(t *testing.T) {
	server := newTestServer(t, nil)
	defer server.Close()

	locations, err := newTestClient(t, server).Resolve(context.Background(), "Greatest Hits", "Beyoncé")
	require.NoError(t, err)
	assert.Equal(t, []string{
		server.URL + "/library/parts/11/file.mp3?X-Plex-Token=secret",
		server.URL + "/library/parts/12/file.mp3?X-Plex-Token=secret",
		server.URL + "/library/parts/21/file.flac?X-Plex-Token=secret",
	}, locations)
}

func TestClient_SectionKeyIsCached(t *testing.T) {
	var calls int32
	server := newTestServer(t, &calls)
	defer server.Close()
	c := newTestClient(t, server)

	for i := 0; i < 3; i++ {
		key, err := c.SectionKey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "7", key)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_MissingSection(t *testing.T) {
	server := newTestServer(t, nil)
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "secret", Section: "Podcasts"})
	require.NoError(t, err)
	_, err = c.SectionKey(context.Background())
	assert.ErrorContains(t, err, "Podcasts")
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c, err := New(Config{BaseURL: server.URL, Token: "wrong"})
	require.NoError(t, err)
	_, err = c.Resolve(context.Background(), "Nihil", "")
	assert.ErrorContains(t, err, "401")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Token: "x"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://plex:32400"})
	assert.Error(t, err)
}

func TestFoldName(t *testing.T) {
	assert.Equal(t, "beyonce", foldName("Beyoncé"))
	assert.Equal(t, "motley crue", foldName("  Mötley   Crüe "))
	assert.Equal(t, "sigur ros", foldName("SIGUR RÓS"))
}

func TestPickAlbum(t *testing.T) {
	albums := []metadata{
		{RatingKey: "1", Title: "Greatest Hits", ParentTitle: "Various"},
		{RatingKey: "2", Title: "Greatest Hits"},
		{RatingKey: "3", Title: "Greatest Hits", ParentTitle: "Queen"},
	}

	tests := []struct {
		name string
		hint string
		want string
	}{
		{name: "exact artist", hint: "Queen", want: "3"},
		{name: "album without artist does not match any hint", hint: "ABBA", want: "1"},
		{name: "no hint", hint: "", want: "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pickAlbum(albums, tt.hint).RatingKey)
		})
	}
}

func TestMatchScore(t *testing.T) {
	assert.Equal(t, 2, matchScore("queen", "queen"))
	assert.Equal(t, 1, matchScore("bob marley & the wailers", "bob marley"))
	assert.Equal(t, 0, matchScore("", "queen"), "empty artist")
	assert.Equal(t, 0, matchScore("queen", ""), "empty hint")
	assert.Equal(t, 0, matchScore("abba", "queen"))
}
