package resolver

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tagbox/internal/domain/media"
)

// Local resolves identifiers to album directories of the local library.
type Local struct {
	root   string
	albums map[string]string
}

// NewLocal creates a local resolver. albums maps registry keys to
// directories; relative directories are taken from root.
func NewLocal(root string, albums map[string]string) *Local {
	return &Local{root: root, albums: albums}
}

// Name returns the resolver type name.
func (l *Local) Name() string {
	return "local"
}

// Resolve lists the playable files of the album directory, sorted by name.
func (l *Local) Resolve(ctx context.Context, program, hint string) ([]string, error) {
	dir, ok := l.dir(program)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "no local album for %q", program)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "no local album for %q", program)
		}
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !media.IsPlayable(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)

	zlog.Debug().Msgf("local: resolved program=%s dir=%s files=%d", program, dir, len(files))
	return files, nil
}

// dir returns the album directory for an identifier.
func (l *Local) dir(program string) (string, bool) {
	key := Key(program)
	if key == "" || key == "." || key == ".." || filepath.Base(key) != key {
		return "", false
	}

	if d, ok := l.albums[key]; ok {
		if filepath.IsAbs(d) || l.root == "" {
			return d, true
		}
		return filepath.Join(l.root, d), true
	}
	if l.root == "" {
		return "", false
	}
	return filepath.Join(l.root, key), true
}
