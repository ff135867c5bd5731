package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/passvault/internal/server/protocol"
)

type TCPClient struct {
	address string

	mu     sync.Mutex
	conn   net.Conn
	r      *protocol.Reader
	w      *protocol.Writer
	closed bool
}

var _ Client = (*TCPClient)(nil)

// Dial connects to a passvault server at address.
func Dial(ctx context.Context, address string) (*TCPClient, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return newTCPClient(address, conn), nil
}

func newTCPClient(address string, conn net.Conn) *TCPClient {
	return &TCPClient{
		address: address,
		conn:    conn,
		r:       protocol.NewReader(conn),
		w:       protocol.NewWriter(conn),
	}
}

// Do sends one command and waits for its response.
func (c *TCPClient) Do(ctx context.Context, commandType string, params ...string) (protocol.Response, error) {
	if params == nil {
		params = []string{}
	}
	return c.roundTrip(ctx, protocol.Command{Type: commandType, Parameters: params})
}

// Call is Do for callers that only care about success. A status-false
// response becomes an ErrRejected error carrying the description.
func (c *TCPClient) Call(ctx context.Context, commandType string, params ...string) (string, error) {
	resp, err := c.Do(ctx, commandType, params...)
	if err != nil {
		return "", err
	}
	if !resp.Status {
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Description)
	}
	return resp.Description, nil
}

func (c *TCPClient) Login(ctx context.Context, user, password string) error {
	_, err := c.Call(ctx, "login", user, password)
	return err
}

func (c *TCPClient) Register(ctx context.Context, user, password string) error {
	_, err := c.Call(ctx, "register", user, password, password)
	return err
}

// Disconnect says goodbye and closes the connection.
func (c *TCPClient) Disconnect(ctx context.Context) error {
	_, err := c.Call(ctx, "disconnect")
	if cerr := c.Close(); err == nil && !errors.Is(cerr, ErrClosed) {
		err = cerr
	}
	return err
}

func (c *TCPClient) roundTrip(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return protocol.Response{}, ErrClosed
	}

	if err := c.conn.SetDeadline(time.Time{}); err != nil {
		return protocol.Response{}, c.mapError(err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.w.WriteFrame(cmd); err != nil {
		if ctx.Err() != nil {
			c.abort()
			return protocol.Response{}, ctx.Err()
		}
		return protocol.Response{}, c.mapError(err)
	}
	frame, err := c.r.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			c.abort()
			return protocol.Response{}, ctx.Err()
		}
		return protocol.Response{}, c.mapError(err)
	}
	return protocol.DecodeResponse(frame)
}

// abort drops a connection whose request/response pairing can no longer be
// trusted. The caller holds c.mu.
func (c *TCPClient) abort() {
	c.closed = true
	_ = c.conn.Close()
}

func (c *TCPClient) mapError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %s closed the connection", ErrUnavailable, c.address)
	}
	if errors.Is(err, protocol.ErrFrameTooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (c *TCPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	return c.conn.Close()
}
