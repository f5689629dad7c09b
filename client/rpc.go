package client

import "context"

// RPC sends one already-serialized request to server's named endpoint and
// returns the raw response body, or a transport-level error (timeout,
// connection refused, non-2xx status, ...). It does not interpret the
// response: a successful RPC call can still carry a wire-level "error"
// field, which callers decode for themselves.
//
// Passcrow's transport (HTTPS to "https://<server>/passcrow/<endpoint>",
// TLS configuration, retries below the RPC task loop) is a host concern;
// this interface is the seam, mirroring how Server.Handle is the seam on
// the receiving side.
type RPC interface {
	Call(ctx context.Context, server, endpoint string, payload []byte) ([]byte, error)
}

// RPCFunc adapts a plain function to RPC.
type RPCFunc func(ctx context.Context, server, endpoint string, payload []byte) ([]byte, error)

func (f RPCFunc) Call(ctx context.Context, server, endpoint string, payload []byte) ([]byte, error) {
	return f(ctx, server, endpoint, payload)
}
