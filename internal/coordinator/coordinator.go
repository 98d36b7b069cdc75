// Package coordinator implements the Coordinator-only orchestrations:
// Read, Write, Delete, and Stabilize over a set of replicas chosen by
// placement. The per-replica shape is grounded on the teacher's
// Replicator.ReplicateWrite/CoordinateRead, generalized here to TCP
// wire round trips, but without its goroutine-per-replica fan-out:
// every operation contacts its replicas one after another in
// placement order. Write and Delete abort immediately on a
// FailureIndication; Read gathers every replica's acknowledgement
// before picking a winner, since the winner can't be known until all
// candidates are in.
package coordinator

import (
	"errors"
	"fmt"
	"time"

	"ringkv/internal/membership"
	"ringkv/internal/placement"
	"ringkv/internal/store"
	"ringkv/internal/transport"
	"ringkv/internal/wire"
)

// ErrKeyNotFound is returned by Read and Delete when the coordinator
// lookup table has no entry for the key.
var ErrKeyNotFound = errors.New("coordinator: key not found")

// ErrReplicaUnavailable is returned when every candidate replica
// timed out or failed.
var ErrReplicaUnavailable = errors.New("coordinator: no replica available")

// ReadResult is the value a successful Read resolves to.
type ReadResult struct {
	Key       string
	Value     string
	Timestamp int64
}

// Coordinator orchestrates client operations over the replicas a key
// hashes to. It owns no goroutine of its own — every method blocks
// the caller (the dispatch loop) for the duration of the
// orchestration, per the specification's non-reentrancy rule.
type Coordinator struct {
	selfAddr          string
	selfID            int
	table             *membership.Table
	store             *store.Store
	dialer            *transport.Dialer
	replicationFactor int
}

// New builds a Coordinator. selfID is always wire.CoordinatorID (0);
// it is threaded through explicitly rather than hard-coded so tests
// can construct a Coordinator without importing the wire package's
// constant twice.
func New(selfAddr string, selfID int, table *membership.Table, st *store.Store, dialer *transport.Dialer, replicationFactor int) *Coordinator {
	return &Coordinator{
		selfAddr:          selfAddr,
		selfID:            selfID,
		table:             table,
		store:             st,
		dialer:            dialer,
		replicationFactor: replicationFactor,
	}
}

// Admit assigns a new peer a monotonically increasing id, stamps it
// into the membership view, and returns the assigned record. Called
// by the dispatch loop on JoinRequest, before replying JoinResponse
// and initiating gossip.
func (c *Coordinator) Admit(addr string) membership.Peer {
	peer := membership.Peer{
		ID:          c.table.NextID(),
		Address:     addr,
		Status:      wire.StatusNode,
		LastUpdated: time.Now().Unix(),
	}
	c.table.Put(peer)
	return peer
}

func (c *Coordinator) replicas(ringSize int, key string) []membership.Peer {
	positions := placement.Replicas(key, ringSize, c.replicationFactor)
	peers := make([]membership.Peer, 0, len(positions))
	for _, pos := range positions {
		if peer, ok := c.table.ReplicaAt(pos); ok {
			peers = append(peers, peer)
		}
	}
	return peers
}

// send stamps the standard envelope (source, destination, piggyback
// view) onto msg and round-trips it to peer.
func (c *Coordinator) send(peer membership.Peer, msg wire.Message) (wire.Message, error) {
	msg.Source = c.selfAddr
	msg.Destination = peer.Address
	msg.SourceID = c.selfID
	msg.Peers = c.table.Snapshot(peer.ID)
	return c.dialer.Send(peer.Address, msg)
}

// Write stores (key, value) on every replica in the current
// placement, stopping early only on an explicit FailureIndication.
// Succeeds if at least one replica acknowledged.
func (c *Coordinator) Write(key, value string) error {
	ringSize := c.table.RingSize()
	replicas := c.replicas(ringSize, key)
	if len(replicas) == 0 {
		return ErrReplicaUnavailable
	}

	now := time.Now().Unix()
	succeeded := false
	for _, peer := range replicas {
		reply, err := c.send(peer, wire.Message{Type: wire.WriteRequest, Key: key, Value: value})
		if err != nil {
			// An unreachable replica (e.g. connection refused) is
			// treated the same as one that timed out.
			c.table.MarkDown(peer.ID, now)
			continue
		}
		switch {
		case transport.IsEmpty(reply):
			c.table.MarkDown(peer.ID, now)
		case reply.Type == wire.FailureIndication:
			return fmt.Errorf("replica %d rejected write: %s", peer.ID, reply.Failed)
		case reply.Type == wire.WriteAcknowledgement:
			c.table.ClearDown(peer.ID, now)
			succeeded = true
		}
	}

	if !succeeded {
		return ErrReplicaUnavailable
	}
	return c.store.Lookup.Upsert(key, store.LookupEntry{RingSize: ringSize})
}

// Read resolves the current value for key. When stabilize is true
// and the ring has grown or shrunk since the key was last placed, it
// runs Stabilize first; Stabilize itself calls Read with
// stabilize=false to avoid recursing.
func (c *Coordinator) Read(key string, stabilize bool) (ReadResult, error) {
	entry, ok := c.store.Lookup.Get(key)
	if !ok {
		return ReadResult{}, ErrKeyNotFound
	}

	ringSize := c.table.RingSize()
	if stabilize && entry.RingSize != ringSize {
		if err := c.Stabilize(key); err != nil {
			return ReadResult{}, err
		}
		entry, ok = c.store.Lookup.Get(key)
		if !ok {
			return ReadResult{}, ErrKeyNotFound
		}
	}

	replicas := c.replicas(entry.RingSize, key)
	if len(replicas) == 0 {
		return ReadResult{}, ErrReplicaUnavailable
	}

	type candidate struct {
		peer      membership.Peer
		timestamp int64
	}
	var candidates []candidate
	now := time.Now().Unix()

	for _, peer := range replicas {
		reply, err := c.send(peer, wire.Message{Type: wire.KeyRequest, Key: key})
		if err != nil {
			return ReadResult{}, fmt.Errorf("key request to replica %d: %w", peer.ID, err)
		}
		if transport.IsEmpty(reply) {
			c.table.MarkDown(peer.ID, now)
			continue
		}
		c.table.ClearDown(peer.ID, now)
		if reply.Key == "" {
			continue // absence signal
		}
		candidates = append(candidates, candidate{peer: peer, timestamp: reply.Timestamp})
	}

	if len(candidates) == 0 {
		return ReadResult{}, ErrKeyNotFound
	}

	winner := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.timestamp > winner.timestamp {
			winner = cand
		} else if cand.timestamp == winner.timestamp && cand.peer.ID < winner.peer.ID {
			winner = cand
		}
	}

	reply, err := c.send(winner.peer, wire.Message{Type: wire.KeyQuery, Key: key})
	if err != nil {
		return ReadResult{}, fmt.Errorf("key query to replica %d: %w", winner.peer.ID, err)
	}
	if transport.IsEmpty(reply) || reply.Type != wire.ValueResponse {
		return ReadResult{}, ErrReplicaUnavailable
	}
	return ReadResult{Key: reply.Key, Value: reply.Value, Timestamp: reply.Timestamp}, nil
}

// Delete removes key from every replica in its current placement,
// then drops the lookup entry. When stabilizeFirst is true and the
// ring has changed since the key was last placed, it stabilizes
// first; Stabilize itself calls Delete with stabilizeFirst=false.
func (c *Coordinator) Delete(key string, stabilizeFirst bool) error {
	entry, ok := c.store.Lookup.Get(key)
	if !ok {
		return ErrKeyNotFound
	}

	ringSize := c.table.RingSize()
	if stabilizeFirst && entry.RingSize != ringSize {
		if err := c.Stabilize(key); err != nil {
			return err
		}
		entry, ok = c.store.Lookup.Get(key)
		if !ok {
			return ErrKeyNotFound
		}
	}

	replicas := c.replicas(entry.RingSize, key)
	if len(replicas) == 0 {
		return ErrReplicaUnavailable
	}

	now := time.Now().Unix()
	for _, peer := range replicas {
		reply, err := c.send(peer, wire.Message{Type: wire.DeleteRequest, Key: key})
		if err != nil {
			return fmt.Errorf("delete on replica %d: %w", peer.ID, err)
		}
		switch {
		case transport.IsEmpty(reply):
			c.table.MarkDown(peer.ID, now)
		case reply.Type == wire.FailureIndication:
			return fmt.Errorf("replica %d rejected delete: %s", peer.ID, reply.Failed)
		default:
			c.table.ClearDown(peer.ID, now)
		}
	}

	if err := c.store.Lookup.Delete(key); err != nil {
		return fmt.Errorf("drop lookup entry: %w", err)
	}
	return nil
}

// Stabilize re-places key at the current ring size: read its value
// at the old placement, delete it there, and rewrite it at the new
// placement. The rewrite's own lookup upsert (in Write) is what
// actually advances the lookup entry to the current ring size — a
// separate "step 4" update would be redundant.
func (c *Coordinator) Stabilize(key string) error {
	result, err := c.Read(key, false)
	if err != nil {
		return fmt.Errorf("stabilize read: %w", err)
	}
	if err := c.Delete(key, false); err != nil {
		return fmt.Errorf("stabilize delete: %w", err)
	}
	if err := c.Write(key, result.Value); err != nil {
		return fmt.Errorf("stabilize write: %w", err)
	}
	return nil
}
