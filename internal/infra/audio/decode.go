package audio

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"

	"github.com/osa030/tagbox/internal/domain/media"
)

// opener opens a location for reading.
type opener func(ctx context.Context, loc string) (io.ReadCloser, error)

// newOpener returns an opener for local files and HTTP streams. timeout
// bounds connecting and waiting for response headers, not the stream itself.
func newOpener(timeout time.Duration) opener {
	client := &http.Client{
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			ResponseHeaderTimeout: timeout,
			TLSHandshakeTimeout:   timeout,
		},
	}

	return func(ctx context.Context, loc string) (io.ReadCloser, error) {
		if !media.IsRemote(loc) {
			f, err := os.Open(loc)
			if err != nil {
				return nil, errors.Wrap(err, "failed to open file")
			}
			return f, nil
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build request")
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open stream")
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, errors.Newf("stream returned %s", resp.Status)
		}
		return resp.Body, nil
	}
}

// decode picks the decoder from the location's extension.
func decode(loc string, rc io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
	switch ext := media.Extension(loc); ext {
	case ".mp3":
		return mp3.Decode(rc)
	case ".flac":
		return flac.Decode(rc)
	case ".wav":
		return wav.Decode(rc)
	case ".ogg":
		return vorbis.Decode(rc)
	default:
		return nil, beep.Format{}, errors.Newf("unsupported format: %s", ext)
	}
}
