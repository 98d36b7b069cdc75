// Package nodeproc is the single dispatch loop every Coordinator or
// Node peer runs: bind-listen-with-timeout, process exactly one
// message to completion, accept the next. It is the TCP analog of
// the teacher's HTTP server goroutine in cmd/server/main.go — one
// blocking accept loop, no per-connection goroutines, because the
// specification requires the membership view and lookup table to be
// mutated only on this one thread.
package nodeproc

import (
	"errors"
	"fmt"
	"log"
	"time"

	"ringkv/internal/coordinator"
	"ringkv/internal/gossip"
	"ringkv/internal/membership"
	"ringkv/internal/store"
	"ringkv/internal/transport"
	"ringkv/internal/wire"
)

// Role selects which dispatch table a Peer uses. Client is handled by
// the separate internal/clientcli package, which performs blocking
// round trips rather than running an accept loop.
type Role int

const (
	RoleNode Role = iota
	RoleCoordinator
)

func (r Role) String() string {
	if r == RoleCoordinator {
		return "Coordinator"
	}
	return "Node"
}

// unassignedID is the placeholder SourceID a Node stamps on its
// outgoing JoinRequest, before the Coordinator has assigned it a real
// positive id.
const unassignedID = -2

// Peer runs the dispatch loop for one Coordinator or Node process.
type Peer struct {
	role              Role
	selfAddr          string
	selfID            int
	coordinatorAddr   string // Node role only
	table             *membership.Table
	store             *store.Store
	dialer            *transport.Dialer
	listener          *transport.Listener
	coord             *coordinator.Coordinator // Coordinator role only
	replicationFactor int
	joined            bool
}

// NewCoordinator builds a Peer running the Coordinator role. It is
// joined immediately — the specification gives the Coordinator no
// startup handshake of its own.
func NewCoordinator(selfAddr string, st *store.Store, dialer *transport.Dialer, listener *transport.Listener, replicationFactor int) *Peer {
	table := membership.New(membership.Peer{
		ID: wire.CoordinatorID, Address: selfAddr, Status: wire.StatusCoordinator, LastUpdated: time.Now().Unix(),
	})
	p := &Peer{
		role:              RoleCoordinator,
		selfAddr:          selfAddr,
		selfID:            wire.CoordinatorID,
		table:             table,
		store:             st,
		dialer:            dialer,
		listener:          listener,
		replicationFactor: replicationFactor,
		joined:            true,
	}
	p.coord = coordinator.New(selfAddr, wire.CoordinatorID, table, st, dialer, replicationFactor)
	return p
}

// NewNode builds a Peer running the Node role. Call Join before Run
// — a Node is not usable until it has an assigned id and an initial
// membership view.
func NewNode(selfAddr, coordinatorAddr string, st *store.Store, dialer *transport.Dialer, listener *transport.Listener) *Peer {
	return &Peer{
		role:            RoleNode,
		selfAddr:        selfAddr,
		selfID:          unassignedID,
		coordinatorAddr: coordinatorAddr,
		store:           st,
		dialer:          dialer,
		listener:        listener,
	}
}

// SelfID returns the peer's assigned id (unassignedID if a Node
// hasn't joined yet).
func (p *Peer) SelfID() int { return p.selfID }

// Table exposes the membership view, mainly for the debug HTTP
// surface and for cmd/peer's shutdown logging.
func (p *Peer) Table() *membership.Table { return p.table }

// Join performs a Node's startup handshake: send JoinRequest to the
// Coordinator, wait for JoinResponse, adopt the assigned id and the
// returned membership snapshot.
func (p *Peer) Join() error {
	if p.role != RoleNode {
		return errors.New("nodeproc: only a Node joins")
	}

	req := wire.Message{
		Source:   p.selfAddr,
		Type:     wire.JoinRequest,
		SourceID: unassignedID,
	}
	reply, err := p.dialer.Send(p.coordinatorAddr, req)
	if err != nil {
		return fmt.Errorf("join request: %w", err)
	}
	if transport.IsEmpty(reply) {
		return errors.New("join request: coordinator did not respond")
	}
	if reply.Type != wire.JoinResponse {
		return fmt.Errorf("join request: unexpected reply type %v", reply.Type)
	}

	p.selfID = reply.NewID
	table := membership.New(membership.Peer{
		ID: p.selfID, Address: p.selfAddr, Status: wire.StatusNode, LastUpdated: time.Now().Unix(),
	})
	table.Put(membership.Peer{
		ID: wire.CoordinatorID, Address: p.coordinatorAddr, Status: wire.StatusCoordinator, LastUpdated: time.Now().Unix(),
	})
	table.MergeAll(reply.Peers)
	p.table = table
	p.joined = true
	return nil
}

// Run executes the accept-dispatch loop until the listener is
// closed. A single timed-out accept (transport.Empty) is not an
// error — it is logged at most opportunistically and the loop
// continues.
func (p *Peer) Run() error {
	for {
		msg, resp, err := p.listener.Accept()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			log.Printf("nodeproc(%s %d): accept error: %v", p.role, p.selfID, err)
			continue
		}
		if transport.IsEmpty(msg) {
			continue
		}
		p.dispatch(msg, resp)
	}
}

func (p *Peer) dispatch(msg wire.Message, resp *transport.Responder) {
	if msg.Peers != nil {
		p.table.MergeAll(msg.Peers)
	}

	switch p.role {
	case RoleCoordinator:
		p.dispatchCoordinator(msg, resp)
	default:
		p.dispatchNode(msg, resp)
	}
}

func (p *Peer) dispatchCoordinator(msg wire.Message, resp *transport.Responder) {
	switch msg.Type {
	case wire.JoinRequest:
		peer := p.coord.Admit(msg.Source)
		reply := wire.Message{
			Type:        wire.JoinResponse,
			Source:      p.selfAddr,
			Destination: msg.Source,
			SourceID:    p.selfID,
			NewID:       peer.ID,
			Peers:       p.table.Snapshot(peer.ID), // exclude the new peer's own record
		}
		if err := resp.Reply(reply); err != nil {
			log.Printf("coordinator: reply to join request from %s: %v", msg.Source, err)
		}
		gossip.Initiate(p.table, p.dialer, p.selfAddr, p.selfID, peer)

	case wire.ClientReadRequest:
		result, err := p.coord.Read(msg.Key, true)
		if err != nil {
			p.replyFailure(resp, msg, readFailureReason(err))
			return
		}
		resp.Reply(p.envelope(wire.Message{
			Type: wire.ClientReadResponse, Key: result.Key, Value: result.Value, Timestamp: result.Timestamp,
		}, msg))

	case wire.ClientWriteRequest:
		if err := p.coord.Write(msg.Key, msg.Value); err != nil {
			p.replyFailure(resp, msg, err.Error())
			return
		}
		resp.Reply(p.envelope(wire.Message{
			Type: wire.ClientWriteResponse, Key: msg.Key, Value: msg.Value,
		}, msg))

	case wire.ClientDeleteRequest:
		if err := p.coord.Delete(msg.Key, true); err != nil {
			p.replyFailure(resp, msg, err.Error())
			return
		}
		// No dedicated client-facing delete response type is defined
		// on the wire; DeleteAcknowledgement already serves as a
		// success ack elsewhere in the protocol, so it is reused here.
		resp.Reply(p.envelope(wire.Message{Type: wire.DeleteAcknowledgement, Key: msg.Key}, msg))

	case wire.Ping:
		p.table.Touch(msg.SourceID, time.Now().Unix())
		resp.Discard()

	default:
		log.Printf("coordinator: protocol violation, unexpected message type %v from %s", msg.Type, msg.Source)
		resp.Discard()
	}
}

func (p *Peer) dispatchNode(msg wire.Message, resp *transport.Responder) {
	switch msg.Type {
	case wire.WriteRequest:
		if _, err := p.store.Put(msg.Key, msg.Value); err != nil {
			resp.Reply(p.envelope(wire.Message{Type: wire.FailureIndication, Failed: err.Error()}, msg))
			return
		}
		resp.Reply(p.envelope(wire.Message{Type: wire.WriteAcknowledgement, Key: msg.Key}, msg))

	case wire.DeleteRequest:
		if err := p.store.Records.Delete(msg.Key); err != nil {
			resp.Reply(p.envelope(wire.Message{Type: wire.FailureIndication, Failed: "key not found"}, msg))
			return
		}
		resp.Reply(p.envelope(wire.Message{Type: wire.DeleteAcknowledgement, Key: msg.Key}, msg))

	case wire.KeyRequest:
		rec, ok := p.store.Records.Get(msg.Key)
		if !ok {
			resp.Reply(p.envelope(wire.Message{Type: wire.KeyAcknowledgement}, msg))
			return
		}
		resp.Reply(p.envelope(wire.Message{Type: wire.KeyAcknowledgement, Key: msg.Key, Timestamp: rec.Timestamp}, msg))

	case wire.KeyQuery:
		rec, _ := p.store.Records.Get(msg.Key)
		resp.Reply(p.envelope(wire.Message{Type: wire.ValueResponse, Key: msg.Key, Value: rec.Value, Timestamp: rec.Timestamp}, msg))

	case wire.JoinIntroduction:
		gossip.Relay(p.table, p.dialer, p.selfAddr, p.selfID, msg)
		resp.Discard()

	case wire.Ping:
		p.table.Touch(msg.SourceID, time.Now().Unix())
		resp.Discard()

	default:
		log.Printf("node %d: protocol violation, unexpected message type %v from %s", p.selfID, msg.Type, msg.Source)
		resp.Discard()
	}
}

func (p *Peer) replyFailure(resp *transport.Responder, msg wire.Message, reason string) {
	if err := resp.Reply(p.envelope(wire.Message{Type: wire.FailureIndication, Failed: reason}, msg)); err != nil {
		log.Printf("%s %d: reply failure indication to %s: %v", p.role, p.selfID, msg.Source, err)
	}
}

func readFailureReason(err error) string {
	if errors.Is(err, coordinator.ErrKeyNotFound) {
		return "Key does not exist"
	}
	return err.Error()
}

// envelope stamps the standard header fields onto a reply to
// request, excluding request's sender from its own piggybacked
// membership snapshot.
func (p *Peer) envelope(reply wire.Message, request wire.Message) wire.Message {
	reply.Source = p.selfAddr
	reply.Destination = request.Source
	reply.SourceID = p.selfID
	reply.Peers = p.table.Snapshot(request.SourceID)
	return reply
}
