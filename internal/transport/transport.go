// Package transport is the byte-level primitive every role sends and
// receives wire.Message over: one outbound TCP connection per
// message, closed after the single request-or-response exchange, with
// a configurable per-operation timeout. A timeout never surfaces as
// an error — it yields Empty, the sentinel the dispatch loop treats
// as "nothing happened this tick".
//
// The shape follows the teacher's HTTP client/server split
// (internal/client + internal/api), adapted from request/response-over-HTTP
// to request/response-over-raw-TCP the way the specification's wire
// codec requires.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"ringkv/internal/wire"
)

// halfCloser is satisfied by *net.TCPConn. After writing a message we
// close only the write half of the connection so the peer's read
// (which goes until EOF, since the wire codec has no length prefix)
// terminates without us closing the socket out from under our own
// pending read of the reply.
type halfCloser interface {
	CloseWrite() error
}

// Empty is returned by Send and by Listener.Accept when no message
// arrived before the configured timeout elapsed. It is a sentinel
// value, not an error. wire.Message embeds a slice field, so it is not
// comparable with == — use IsEmpty to detect it.
var Empty = wire.Message{}

// IsEmpty reports whether m is the Empty sentinel. A real decoded
// message always has a non-empty Type, so checking Type is enough;
// wire.Message can't be compared with == because it embeds a slice.
func IsEmpty(m wire.Message) bool {
	return m.Type == ""
}

// ErrClosed is returned by Accept after the listener has been closed.
var ErrClosed = errors.New("transport: listener closed")

// Conn is the connection interface of one exchange; it is exactly
// net.Conn. Send and Listener.Accept work on net.Conn values directly
// and do not refer to this type.
type Conn interface {
	net.Conn
}

// Dialer opens one outbound connection per message. The dial is
// bounded by Timeout, and the write and read that follow are bounded
// together by a second deadline of the same length.
type Dialer struct {
	Timeout time.Duration
}

// NewDialer builds a Dialer with the given network timeout.
func NewDialer(timeout time.Duration) *Dialer {
	return &Dialer{Timeout: timeout}
}

// Send opens a connection to addr, writes msg, and returns whatever
// reply the peer writes back before the timeout. If the peer never
// replies (or the dial itself times out), Send returns (Empty, nil) —
// a network timeout is not an error at this layer. Any other failure
// (connection refused, malformed reply) is returned as an error.
func (d *Dialer) Send(addr string, msg wire.Message) (wire.Message, error) {
	conn, err := net.DialTimeout("tcp", addr, d.Timeout)
	if err != nil {
		if isTimeout(err) {
			return Empty, nil
		}
		return Empty, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(d.Timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return Empty, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write(wire.Encode(msg)); err != nil {
		return Empty, fmt.Errorf("write to %s: %w", addr, err)
	}
	if hc, ok := conn.(halfCloser); ok {
		if err := hc.CloseWrite(); err != nil {
			return Empty, fmt.Errorf("half-close to %s: %w", addr, err)
		}
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		if isTimeout(err) {
			return Empty, nil
		}
		return Empty, fmt.Errorf("read reply from %s: %w", addr, err)
	}
	if len(data) == 0 {
		return Empty, nil
	}

	reply, err := wire.Decode(data)
	if err != nil {
		return Empty, fmt.Errorf("decode reply from %s: %w", addr, err)
	}
	return reply, nil
}

// SendOnly is Send for fire-and-forget messages (gossip pushes)
// where the caller has no use for a reply and wants the connection closed the
// instant the write completes.
func (d *Dialer) SendOnly(addr string, msg wire.Message) error {
	conn, err := net.DialTimeout("tcp", addr, d.Timeout)
	if err != nil {
		if isTimeout(err) {
			return nil
		}
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetWriteDeadline(time.Now().Add(d.Timeout)); err != nil {
		return fmt.Errorf("set deadline: %w", err)
	}
	if _, err := conn.Write(wire.Encode(msg)); err != nil {
		return fmt.Errorf("write to %s: %w", addr, err)
	}
	return nil
}

// Listener binds one TCP port and hands the dispatch loop one message
// at a time, one connection at a time — matching the specification's
// "bound-listen cycle" transport model rather than a goroutine-per-
// connection server.
type Listener struct {
	ln      net.Listener
	timeout time.Duration
}

// Listen binds addr (e.g. ":8080") and returns a Listener.
func Listen(addr string, timeout time.Duration) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln, timeout: timeout}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Accept blocks for at most the listener's timeout waiting for one
// inbound connection, reads exactly one message from it, and returns
// a responder the caller uses to write back the single reply (if
// any) before the connection is closed. On timeout it returns
// (Empty, nil, nil) — the dispatch loop's "no message this tick".
func (l *Listener) Accept() (wire.Message, *Responder, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	dl, canDeadline := l.ln.(interface{ SetDeadline(time.Time) error })
	if canDeadline {
		dl.SetDeadline(time.Time{})
	}
	ch := make(chan acceptResult, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- acceptResult{conn, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, net.ErrClosed) {
				return Empty, nil, ErrClosed
			}
			return Empty, nil, fmt.Errorf("accept: %w", r.err)
		}
		return l.handle(r.conn)
	case <-time.After(l.timeout):
		// Cut the pending accept short so it cannot take the next
		// connection after this call has returned; a connection it
		// already took is handled here.
		if canDeadline {
			dl.SetDeadline(time.Now())
			if r := <-ch; r.err == nil {
				return l.handle(r.conn)
			}
		}
		return Empty, nil, nil
	}
}

func (l *Listener) handle(conn net.Conn) (wire.Message, *Responder, error) {
	if err := conn.SetDeadline(time.Now().Add(l.timeout)); err != nil {
		conn.Close()
		return Empty, nil, fmt.Errorf("set deadline: %w", err)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		conn.Close()
		if isTimeout(err) {
			return Empty, nil, nil
		}
		return Empty, nil, fmt.Errorf("read: %w", err)
	}
	if len(data) == 0 {
		conn.Close()
		return Empty, nil, nil
	}

	msg, err := wire.Decode(data)
	if err != nil {
		conn.Close()
		return Empty, nil, fmt.Errorf("decode: %w", err)
	}
	return msg, &Responder{conn: conn}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Responder writes the single reply for one Accept()-ed connection,
// then closes it — mirroring the "one request-or-response exchange
// per connection" rule from both directions.
type Responder struct {
	conn net.Conn
}

// Reply writes msg as the response and closes the connection. Call
// at most once.
func (r *Responder) Reply(msg wire.Message) error {
	defer r.conn.Close()
	_, err := r.conn.Write(wire.Encode(msg))
	return err
}

// Discard closes the connection without writing a reply — used for
// one-way messages (gossip, Ping) and for messages a peer drops as a
// protocol violation.
func (r *Responder) Discard() error {
	return r.conn.Close()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
