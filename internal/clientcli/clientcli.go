// Package clientcli is the Client role of the peer protocol: it
// performs request/response round trips against the Coordinator and
// drives the interactive R/W/E terminal session the specification
// mandates. cmd/kvadmin builds its put/get/delete/repl commands on
// this package; only its health/ring commands use the debug HTTP
// surface instead of the wire protocol.
//
// The request/response shape — build a request, send it, translate
// a not-found status into a sentinel error, surface anything else —
// follows the teacher's internal/client SDK, adapted from HTTP+JSON
// calls to wire.Message round trips over a transport.Dialer.
package clientcli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ringkv/internal/transport"
	"ringkv/internal/wire"
)

// ErrNotFound is returned by Read when the Coordinator reports the
// key does not exist.
var ErrNotFound = errors.New("key not found")

// Record is the value of a successful Read.
type Record struct {
	Key       string
	Value     string
	Timestamp int64
}

// Client performs ClientXxxRequest/response round trips against one
// Coordinator address.
type Client struct {
	coordinatorAddr string
	dialer          *transport.Dialer
}

// New builds a Client. timeout bounds every round trip, exactly the
// way the specification's single configured network timeout governs
// every I/O.
func New(coordinatorAddr string, timeout time.Duration) *Client {
	return &Client{coordinatorAddr: coordinatorAddr, dialer: transport.NewDialer(timeout)}
}

func (c *Client) roundTrip(req wire.Message) (wire.Message, error) {
	req.SourceID = wire.ClientID
	reply, err := c.dialer.Send(c.coordinatorAddr, req)
	if err != nil {
		return wire.Message{}, fmt.Errorf("round trip to coordinator: %w", err)
	}
	if transport.IsEmpty(reply) {
		return wire.Message{}, fmt.Errorf("round trip to coordinator: %w", errTimedOut)
	}
	return reply, nil
}

var errTimedOut = errors.New("no reply before the network timeout")

// Read performs ClientReadRequest.
func (c *Client) Read(key string) (Record, error) {
	reply, err := c.roundTrip(wire.Message{Type: wire.ClientReadRequest, Key: key})
	if err != nil {
		return Record{}, err
	}
	if reply.Type == wire.FailureIndication {
		return Record{}, ErrNotFound
	}
	if reply.Type != wire.ClientReadResponse {
		return Record{}, fmt.Errorf("unexpected reply type %v", reply.Type)
	}
	return Record{Key: reply.Key, Value: reply.Value, Timestamp: reply.Timestamp}, nil
}

// Write performs ClientWriteRequest.
func (c *Client) Write(key, value string) error {
	reply, err := c.roundTrip(wire.Message{Type: wire.ClientWriteRequest, Key: key, Value: value})
	if err != nil {
		return err
	}
	if reply.Type == wire.FailureIndication {
		return fmt.Errorf("write rejected: %s", reply.Failed)
	}
	if reply.Type != wire.ClientWriteResponse {
		return fmt.Errorf("unexpected reply type %v", reply.Type)
	}
	return nil
}

// Delete performs ClientDeleteRequest.
func (c *Client) Delete(key string) error {
	reply, err := c.roundTrip(wire.Message{Type: wire.ClientDeleteRequest, Key: key})
	if err != nil {
		return err
	}
	if reply.Type == wire.FailureIndication {
		return fmt.Errorf("delete rejected: %s", reply.Failed)
	}
	return nil
}

// REPL runs the interactive R/W/E session against stdin/stdout,
// exactly the three commands the specification names: R(ead),
// W(rite), E(xit).
func REPL(c *Client, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	prompt := func(label string) (string, bool) {
		fmt.Fprint(out, label)
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	for {
		cmd, ok := prompt("Command (R/W/E): ")
		if !ok {
			return
		}
		switch strings.ToUpper(cmd) {
		case "R":
			key, ok := prompt("Key: ")
			if !ok {
				return
			}
			rec, err := c.Read(key)
			if errors.Is(err, ErrNotFound) {
				fmt.Fprintln(out, "Key was not found.")
				continue
			}
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Key: %s\nValue: %s\nTimeStamp: %d\n", rec.Key, rec.Value, rec.Timestamp)

		case "W":
			key, ok := prompt("Key: ")
			if !ok {
				return
			}
			value, ok := prompt("Value: ")
			if !ok {
				return
			}
			if err := c.Write(key, value); err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
				continue
			}
			fmt.Fprintln(out, "OK")

		case "E":
			return

		default:
			fmt.Fprintln(out, "unrecognized command, expected R, W, or E")
		}
	}
}
