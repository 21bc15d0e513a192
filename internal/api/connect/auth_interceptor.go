package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
)

const (
	// RemoteTokenHeader is the header name for the remote control token.
	RemoteTokenHeader = "X-Remote-Token"
)

// AuthInterceptor validates the remote token on unary and streaming calls.
// An empty token disables the check.
type AuthInterceptor struct {
	token string
}

// NewAuthInterceptor creates an interceptor checking RemoteTokenHeader.
func NewAuthInterceptor(token string) *AuthInterceptor {
	return &AuthInterceptor{token: token}
}

var _ connect.Interceptor = (*AuthInterceptor)(nil)

func (a *AuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		if err := a.check(req.Header().Get(RemoteTokenHeader)); err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

func (a *AuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (a *AuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		if err := a.check(conn.RequestHeader().Get(RemoteTokenHeader)); err != nil {
			return err
		}
		return next(ctx, conn)
	}
}

func (a *AuthInterceptor) check(token string) error {
	if a.token == "" {
		return nil
	}
	if token == "" {
		return connect.NewError(connect.CodeUnauthenticated, errors.New("missing remote token"))
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.token)) != 1 {
		return connect.NewError(connect.CodeUnauthenticated, errors.New("invalid remote token"))
	}
	return nil
}
