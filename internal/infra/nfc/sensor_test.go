package nfc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tagbox/internal/domain/presence"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    presence.Reading
		wantErr bool
	}{
		{
			name: "records",
			data: "uri: spotify:album:7MtJrKwP2h9eJMqnooR6iM\nband: KMFDM\nalbum: Nihil\n",
			want: presence.Tag("spotify:album:7MtJrKwP2h9eJMqnooR6iM", "KMFDM"),
		},
		{
			name: "uri only",
			data: "uri: local:nihil",
			want: presence.Tag("local:nihil", ""),
		},
		{
			name: "bare identifier",
			data: "local:nihil\n",
			want: presence.Tag("local:nihil", ""),
		},
		{
			name: "empty",
			data: "  \n",
			want: presence.Absent(),
		},
		{
			name: "album identifies a tag without uri",
			data: "band: KMFDM\nalbum: Nihil\n",
			want: presence.Tag("Nihil", "KMFDM"),
		},
		{
			name:    "neither uri nor album",
			data:    "band: KMFDM\n",
			wantErr: true,
		},
		{
			name:    "list",
			data:    "- a\n- b\n",
			wantErr: true,
		},
		{
			name:    "broken yaml",
			data:    "uri: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, got.Present)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFileSensor_Poll(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tag.yaml")
	s := NewFileSensor(path)
	defer s.Close()

	// No file, no tag
	r, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, r.Present)

	require.NoError(t, os.WriteFile(path, []byte("uri: local:nihil\nband: KMFDM\n"), 0o644))
	r, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, presence.Tag("local:nihil", "KMFDM"), r)

	// Unchanged file is served from the cache
	r, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, presence.Tag("local:nihil", "KMFDM"), r)

	// Tag swapped
	require.NoError(t, os.WriteFile(path, []byte("uri: local:angst\n"), 0o644))
	later := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, later, later))
	r, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local:angst", r.Identifier)

	// Truncated by the daemon on removal
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	r, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, r.Present)

	// Removed
	require.NoError(t, os.Remove(path))
	r, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.False(t, r.Present)
}

func TestFileSensor_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("band: KMFDM\n"), 0o644))

	s := NewFileSensor(path)
	_, err := s.Poll(context.Background())
	assert.ErrorContains(t, err, "uri")
}

func TestFileSensor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileSensor("/nonexistent").Poll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoSensor(t *testing.T) {
	r, err := NoSensor{}.Poll(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Present)
	assert.NoError(t, NoSensor{}.Close())
}
