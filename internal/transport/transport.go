// Package transport moves bytes between the agent and the outside
// world.  The control side ([Transport]) speaks HTTP to the command
// server; the relay side ([Dialer]) opens the raw TCP connections that
// tunnels and bridges forward, either directly or through an SSH
// gateway.
package transport

import (
	"context"
	"io"
	"net"
	"net/http"
)

// Response is a fully read server reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports whether the server answered 200.  Nothing else counts as
// success.
func (r *Response) OK() bool { return r != nil && r.StatusCode == http.StatusOK }

// Transport is the control channel to the command server.  Paths
// beginning with "/" are joined to the current base address; anything
// else is used as an absolute URL.
//
// Every method returns a non-nil error unless the server replied 200.
// The response is still returned for non-200 replies so callers can log
// the status.
type Transport interface {
	// Base returns the server base URL requests are currently sent to.
	Base() string

	// SetBase switches to a different server base URL.
	SetBase(url string)

	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body []byte) (*Response, error)

	// Upload sends r as a multipart form: the file part is named field
	// and a plain "filename" field carries filename.
	Upload(ctx context.Context, path, field, filename string, r io.Reader) (*Response, error)

	// Fetch streams the body of url into w and returns the byte count.
	Fetch(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Dialer opens outbound network connections for relays.
// Implementations include a plain TCP dialer and an SSH-tunnelled
// dialer that routes traffic through a gateway host.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
