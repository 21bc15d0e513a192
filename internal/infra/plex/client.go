// Package plex provides a minimal client for a Plex Media Server music
// library: album search and track stream URLs.
package plex

import (
	"cmp"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/osa030/tagbox/internal/domain/media"
)

// ErrAlbumNotFound is returned when a search has no album results.
var ErrAlbumNotFound = errors.New("album not found")

// albumType is the Plex metadata type for albums.
const albumType = "9"

// Config represents Plex client configuration.
type Config struct {
	BaseURL string
	Token   string
	Section string // Library section title, e.g. "Music"
	Timeout time.Duration
}

// Client is a Plex Media Server client.
type Client struct {
	baseURL string
	token   string
	section string
	http    *http.Client

	mu         sync.Mutex
	sectionKey string
}

// New creates a new Plex client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, errors.New("plex base url and token are required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "invalid plex base url")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Section == "" {
		cfg.Section = "Music"
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		section: cfg.Section,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type mediaContainer struct {
	MediaContainer struct {
		Directory []directory `json:"Directory"`
		Metadata  []metadata  `json:"Metadata"`
	} `json:"MediaContainer"`
}

type directory struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type metadata struct {
	RatingKey   string      `json:"ratingKey"`
	Title       string      `json:"title"`
	ParentTitle string      `json:"parentTitle"`
	Year        int         `json:"year"`
	LeafCount   int         `json:"leafCount"`
	Index       int         `json:"index"`
	ParentIndex int         `json:"parentIndex"`
	Media       []mediaItem `json:"Media"`
}

type mediaItem struct {
	Part []part `json:"Part"`
}

type part struct {
	Key       string `json:"key"`
	Container string `json:"container"`
}

// Resolve finds the album titled program, preferring the artist hint, and
// returns its track stream URLs in disc and track order.
func (c *Client) Resolve(ctx context.Context, program, hint string) ([]string, error) {
	album, err := c.FindAlbum(ctx, program, hint)
	if err != nil {
		return nil, err
	}
	return c.AlbumTracks(ctx, album.ID)
}

// FindAlbum searches the music section for an album. With several results
// and an artist hint, the album whose artist best matches the hint wins.
func (c *Client) FindAlbum(ctx context.Context, title, artistHint string) (*media.Album, error) {
	key, err := c.SectionKey(ctx)
	if err != nil {
		return nil, err
	}

	var res mediaContainer
	query := url.Values{"type": {albumType}, "title": {title}}
	if err := c.get(ctx, "/library/sections/"+key+"/search", query, &res); err != nil {
		return nil, errors.Wrap(err, "album search failed")
	}

	albums := res.MediaContainer.Metadata
	if len(albums) == 0 {
		return nil, errors.Wrapf(ErrAlbumNotFound, "%q", title)
	}

	best := pickAlbum(albums, artistHint)
	zlog.Debug().Msgf("plex: album found: title=%s artist=%s candidates=%d", best.Title, best.ParentTitle, len(albums))
	return &media.Album{
		ID:      best.RatingKey,
		Title:   best.Title,
		Artist:  best.ParentTitle,
		Year:    best.Year,
		Tracks:  best.LeafCount,
		Catalog: "plex",
	}, nil
}

// AlbumTracks returns the stream URLs of an album's tracks.
func (c *Client) AlbumTracks(ctx context.Context, ratingKey string) ([]string, error) {
	var res mediaContainer
	if err := c.get(ctx, "/library/metadata/"+url.PathEscape(ratingKey)+"/children", nil, &res); err != nil {
		return nil, errors.Wrap(err, "track listing failed")
	}

	tracks := res.MediaContainer.Metadata
	slices.SortStableFunc(tracks, func(a, b metadata) int {
		if n := cmp.Compare(a.ParentIndex, b.ParentIndex); n != 0 {
			return n
		}
		return cmp.Compare(a.Index, b.Index)
	})

	var locations []string
	for _, t := range tracks {
		if len(t.Media) == 0 || len(t.Media[0].Part) == 0 {
			continue
		}
		loc := c.streamURL(t.Media[0].Part[0].Key)
		if !media.IsPlayable(loc) {
			zlog.Debug().Msgf("plex: skipping unsupported track: title=%s container=%s", t.Title, t.Media[0].Part[0].Container)
			continue
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// SectionKey returns the key of the configured music section.
func (c *Client) SectionKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sectionKey != "" {
		return c.sectionKey, nil
	}

	var res mediaContainer
	if err := c.get(ctx, "/library/sections", nil, &res); err != nil {
		return "", errors.Wrap(err, "section listing failed")
	}
	for _, d := range res.MediaContainer.Directory {
		if strings.EqualFold(d.Title, c.section) {
			c.sectionKey = d.Key
			return d.Key, nil
		}
	}
	return "", errors.Newf("library section %q not found", c.section)
}

func (c *Client) streamURL(partKey string) string {
	return c.baseURL + partKey + "?X-Plex-Token=" + url.QueryEscape(c.token)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("plex returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// pickAlbum returns the first album, or the one whose artist best matches
// the hint when there are several.
func pickAlbum(albums []metadata, hint string) metadata {
	if len(albums) == 1 || hint == "" {
		return albums[0]
	}

	want := foldName(hint)
	best, bestScore := albums[0], -1
	for _, a := range albums {
		score := matchScore(foldName(a.ParentTitle), want)
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	return best
}

func matchScore(artist, want string) int {
	switch {
	case artist == want:
		return 2
	case artist != "" && want != "" && (strings.Contains(artist, want) || strings.Contains(want, artist)):
		return 1
	default:
		return 0
	}
}

var folder = cases.Fold()

// foldName makes artist names comparable: accents removed, case folded,
// whitespace collapsed.
func foldName(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(folder.String(b.String())), " ")
}
