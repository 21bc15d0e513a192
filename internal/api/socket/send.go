package socket

import (
	"context"
	"encoding/json"
	"net"

	"github.com/cockroachdb/errors"
)

// Send writes messages to a socket intake at addr, one JSON object each.
// Delivery only means the bytes were written; the listener reports nothing back.
func Send(ctx context.Context, addr string, msgs ...map[string]any) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return errors.Wrap(err, "failed to set deadline")
		}
	}

	enc := json.NewEncoder(conn)
	for _, msg := range msgs {
		if err := enc.Encode(msg); err != nil {
			return errors.Wrap(err, "failed to send message")
		}
	}
	return nil
}
