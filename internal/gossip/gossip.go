// Package gossip implements randomized, hop-bounded dissemination of
// new-peer introductions across the membership table. The random
// peer selection and hop-count decay follows the gossip round shape
// in the gossip reference package in this codebase's lineage (pick a
// handful of random peers, exchange state, let the merge rule handle
// convergence) — adapted from an RPC-based periodic round to a single
// forward-on-receipt relay, since the specification disseminates one
// JoinIntroduction per admitted peer rather than running continuous
// rounds.
package gossip

import (
	"log"
	"math/rand"

	"ringkv/internal/membership"
	"ringkv/internal/transport"
	"ringkv/internal/wire"
)

// Initiate is called by the Coordinator immediately after admitting a
// new peer. It is a no-op when fewer than two data-bearing peers
// exist yet, matching the specification's ring_size >= 2 guard.
func Initiate(table *membership.Table, dialer *transport.Dialer, selfAddr string, selfID int, introduced membership.Peer) {
	ringSize := table.RingSize()
	if ringSize < 2 {
		return
	}

	target, ok := table.RandomDataPeer(map[int]bool{introduced.ID: true, selfID: true}, rand.Intn)
	if !ok {
		return
	}

	msg := wire.Message{
		Source:      selfAddr,
		Destination: target.Address,
		Type:        wire.JoinIntroduction,
		SourceID:    selfID,
		Peers:       table.Snapshot(target.ID),
		NewID:       introduced.ID,
		HopCount:    ringSize / 4,
	}
	if err := dialer.SendOnly(target.Address, msg); err != nil {
		log.Printf("gossip: initiate to %s failed: %v", target.Address, err)
	}
}

// Relay handles an inbound JoinIntroduction: merges the piggybacked
// view, and if hop count remains, forwards to one random peer other
// than self and the introduced peer, decrementing the count. A
// failed forward is logged and dropped — dissemination is
// best-effort, and duplicate deliveries elsewhere in the cluster are
// harmless under the merge rule.
func Relay(table *membership.Table, dialer *transport.Dialer, selfAddr string, selfID int, msg wire.Message) {
	table.MergeAll(msg.Peers)

	if msg.HopCount <= 0 {
		return
	}

	exclude := map[int]bool{selfID: true, msg.NewID: true}
	target, ok := table.RandomDataPeer(exclude, rand.Intn)
	if !ok {
		return
	}

	forward := wire.Message{
		Source:      selfAddr,
		Destination: target.Address,
		Type:        wire.JoinIntroduction,
		SourceID:    selfID,
		Peers:       table.Snapshot(target.ID),
		NewID:       msg.NewID,
		HopCount:    msg.HopCount - 1,
	}
	if err := dialer.SendOnly(target.Address, forward); err != nil {
		log.Printf("gossip: relay to %s failed: %v", target.Address, err)
	}
}
