package connect

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client calls the remote service.
type Client struct {
	token  string
	submit *connect.Client[structpb.Struct, structpb.Struct]
	status *connect.Client[emptypb.Empty, structpb.Struct]
	watch  *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewClient creates a client for the server at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		token:  token,
		submit: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SubmitProcedure),
		status: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStatusProcedure),
		watch:  connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+WatchStatusProcedure),
	}
}

// Submit sends one intake message and returns the queued event id.
func (c *Client) Submit(ctx context.Context, msg map[string]any) (string, error) {
	body, err := structpb.NewStruct(msg)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode message")
	}
	req := connect.NewRequest(body)
	c.authorize(req.Header())

	resp, err := c.submit.CallUnary(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "submit failed")
	}
	return resp.Msg.GetFields()["id"].GetStringValue(), nil
}

// GetStatus returns the current status fields.
func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	req := connect.NewRequest(&emptypb.Empty{})
	c.authorize(req.Header())

	resp, err := c.status.CallUnary(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "get status failed")
	}
	return resp.Msg.AsMap(), nil
}

// WatchStatus calls fn with the current status and then with every change,
// until ctx is cancelled, the server ends the stream or fn returns an error.
func (c *Client) WatchStatus(ctx context.Context, fn func(map[string]any) error) error {
	req := connect.NewRequest(&emptypb.Empty{})
	c.authorize(req.Header())

	stream, err := c.watch.CallServerStream(ctx, req)
	if err != nil {
		return errors.Wrap(err, "watch failed")
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg().AsMap()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "watch stream ended")
	}
	return nil
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set(RemoteTokenHeader, c.token)
	}
}
