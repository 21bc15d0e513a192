// Package connect provides the Connect RPC remote control service.
//
// Messages are google.protobuf.Struct values carrying the same fields as the
// raw socket JSON messages, so no generated code is needed.
package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/tagbox/internal/app/arbiter"
	"github.com/osa030/tagbox/internal/app/intake"
	"github.com/osa030/tagbox/internal/app/notification"
	"github.com/osa030/tagbox/internal/domain/event"
	"github.com/osa030/tagbox/internal/infra/metrics"
)

const (
	// ServiceName is the fully-qualified name of the remote service.
	ServiceName = "tagbox.v1.RemoteService"

	SubmitProcedure      = "/" + ServiceName + "/Submit"
	GetStatusProcedure   = "/" + ServiceName + "/GetStatus"
	WatchStatusProcedure = "/" + ServiceName + "/WatchStatus"
)

// Jukebox is what the remote service needs from the running jukebox.
type Jukebox interface {
	Enqueue(ev event.Event) error
	Status() arbiter.Status
	Notifications() *notification.Manager
	Done() <-chan struct{}
}

// RemoteService implements the remote control RPCs.
type RemoteService struct {
	jukebox Jukebox
}

// NewRemoteService creates a new RemoteService.
func NewRemoteService(jukebox Jukebox) *RemoteService {
	return &RemoteService{jukebox: jukebox}
}

// Handler returns the mount path and HTTP handler serving all procedures.
func (s *RemoteService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(SubmitProcedure, connect.NewUnaryHandler(SubmitProcedure, s.Submit, opts...))
	mux.Handle(GetStatusProcedure, connect.NewUnaryHandler(GetStatusProcedure, s.GetStatus, opts...))
	mux.Handle(WatchStatusProcedure, connect.NewServerStreamHandler(WatchStatusProcedure, s.WatchStatus, opts...))
	return "/" + ServiceName + "/", mux
}

// Submit decodes an intake message and queues it.
//
//	{"source": "remote", "event": "setVolume", "data": {"volume": 40}}
func (s *RemoteService) Submit(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	ev, err := intake.DecodeMap(req.Msg.AsMap())
	if err != nil {
		metrics.DiscardedTotal.WithLabelValues("rpc", "malformed").Inc()
		zlog.Warn().Msgf("rpc: discarding message: peer=%s err=%v", req.Peer().Addr, err)
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := s.jukebox.Enqueue(ev); err != nil {
		if errors.Is(err, intake.ErrQueueFull) {
			return nil, connect.NewError(connect.CodeResourceExhausted, err)
		}
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	zlog.Debug().Msgf("rpc: queued %s", ev)

	resp, err := structpb.NewStruct(map[string]any{
		"id":       ev.ID,
		"accepted": true,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

// GetStatus returns the current status snapshot.
func (s *RemoteService) GetStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	resp, err := statusStruct(s.jukebox.Status(), 0)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(resp), nil
}

// WatchStatus sends the current status, then every change until the client
// goes away or the jukebox shuts down. The subscription is taken before the
// snapshot is read, so a change racing the snapshot is still delivered;
// clients order messages by sequence_no.
func (s *RemoteService) WatchStatus(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	notifications := s.jukebox.Notifications()
	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifications.Subscribe(adapter)
	defer notifications.Unsubscribe(subscriptionID)

	if err := adapter.sendSnapshot(s.jukebox.Status); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.jukebox.Done():
	}
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[structpb.Struct]
}

// sendSnapshot sends the status returned by read ahead of any broadcast.
func (a *notificationStreamAdapter) sendSnapshot(read func() arbiter.Status) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	msg, err := statusStruct(read(), 0)
	if err != nil {
		return connect.NewError(connect.CodeInternal, err)
	}
	return a.stream.Send(msg)
}

func (a *notificationStreamAdapter) Send(n notification.Notification) error {
	msg, err := statusStruct(n.Status, n.SequenceNo)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(msg)
}

// statusStruct encodes a status snapshot. sequenceNo 0 marks a snapshot that
// was not produced by a broadcast.
func statusStruct(status arbiter.Status, sequenceNo uint64) (*structpb.Struct, error) {
	fields := status.Fields()
	fields["sequence_no"] = float64(sequenceNo)
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode status")
	}
	return msg, nil
}
