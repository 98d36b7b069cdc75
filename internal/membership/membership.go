// Package membership holds the table of known peers that every role
// (Coordinator, Node, Client) carries, the merge rule that lets
// gossip and piggyback blocks converge eventually, and the id
// assignment the Coordinator uses when admitting a new peer.
package membership

import (
	"sort"
	"sync"

	"ringkv/internal/wire"
)

// Peer is the in-memory twin of wire.PeerInfo, plus the fields that
// never go on the wire (nothing, today — kept as a distinct type so
// the wire format can evolve independently of the in-memory model).
type Peer struct {
	ID          int
	Address     string
	Status      wire.Status
	IsDown      bool
	LastUpdated int64
}

func fromWire(p wire.PeerInfo) Peer {
	return Peer{ID: p.ID, Address: p.Address, Status: p.Status, IsDown: p.IsDown, LastUpdated: p.LastUpdated}
}

func (p Peer) toWire() wire.PeerInfo {
	return wire.PeerInfo{ID: p.ID, Status: p.Status, Address: p.Address, IsDown: p.IsDown, LastUpdated: p.LastUpdated}
}

// Table is a peer's view of the cluster: a map from id to peer
// record, guarded by a single RWMutex exactly the way the teacher
// guards Membership.nodes — many readers (coordinator fan-out,
// gossip relay) and one mutator at a time (merge).
type Table struct {
	mu     sync.RWMutex
	peers  map[int]Peer
	nextID int // only meaningful on the Coordinator
}

// New creates a Table seeded with self.
func New(self Peer) *Table {
	t := &Table{
		peers:  map[int]Peer{self.ID: self},
		nextID: 1,
	}
	return t
}

// Merge applies the specification's merge rule for a single incoming
// peer record: insert if absent, replace if strictly newer, ignore
// otherwise. Returns true if the table changed.
func (t *Table) Merge(p Peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mergeLocked(p)
}

func (t *Table) mergeLocked(p Peer) bool {
	existing, ok := t.peers[p.ID]
	if !ok {
		t.peers[p.ID] = p
		return true
	}
	if p.LastUpdated > existing.LastUpdated {
		t.peers[p.ID] = p
		return true
	}
	return false
}

// MergeAll merges every peer in a piggybacked batch, e.g. from a
// received message's Peers field or a JoinIntroduction payload.
func (t *Table) MergeAll(peers []wire.PeerInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range peers {
		t.mergeLocked(fromWire(p))
	}
}

// Get returns the peer record for id, if known.
func (t *Table) Get(id int) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

// Put inserts or unconditionally overwrites a peer record — used by
// the Coordinator when admitting a brand new peer, which must win
// over any stale gossip about the same (not yet assigned) id.
func (t *Table) Put(p Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[p.ID] = p
}

// MarkDown flags id as unreachable, the first time an expected
// response fails to arrive within the transport timeout.
func (t *Table) MarkDown(id int, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.IsDown = true
		p.LastUpdated = now
		t.peers[id] = p
	}
}

// ClearDown clears the down flag on the next successful exchange.
func (t *Table) ClearDown(id int, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok && p.IsDown {
		p.IsDown = false
		p.LastUpdated = now
		t.peers[id] = p
	}
}

// Touch refreshes a peer's last-updated time without changing its
// down status — used when a Ping reveals a peer is still alive.
func (t *Table) Touch(id int, now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.LastUpdated = now
		t.peers[id] = p
	}
}

// RingSize is the count of data-bearing peers: positive ids only,
// excluding the reserved Coordinator (0) and Client (-1) ids.
func (t *Table) RingSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for id := range t.peers {
		if id > 0 {
			n++
		}
	}
	return n
}

// SortedDataIDs returns the ids of all data-bearing peers in
// ascending order — the membership view that placement.Replicas
// indexes into.
func (t *Table) SortedDataIDs() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]int, 0, len(t.peers))
	for id := range t.peers {
		if id > 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// ReplicaAt resolves a placement.Replicas() position (an index into
// SortedDataIDs) back to the concrete peer.
func (t *Table) ReplicaAt(position int) (Peer, bool) {
	ids := t.SortedDataIDs()
	if position < 0 || position >= len(ids) {
		return Peer{}, false
	}
	return t.Get(ids[position])
}

// All returns every known peer record, including the Coordinator and
// self, sorted by id. Used by the debug HTTP surface's ring dump.
func (t *Table) All() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextID hands out a monotonically increasing positive id. Only the
// Coordinator calls this; it is how new peers are admitted without
// the address-octet collision hazard the reference implementation has.
func (t *Table) NextID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// Snapshot returns the piggyback set for an outgoing message destined
// for peer excludeID: every known peer except excludeID itself and
// any Client-role peers, per the wire codec's piggyback rule.
func (t *Table) Snapshot(excludeID int) []wire.PeerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]wire.PeerInfo, 0, len(t.peers))
	for id, p := range t.peers {
		if id == excludeID || p.Status == wire.StatusClient {
			continue
		}
		out = append(out, p.toWire())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RandomDataPeer returns a uniformly random data-bearing peer, other
// than any id in exclude. ok is false if no such peer exists.
func (t *Table) RandomDataPeer(exclude map[int]bool, rnd func(n int) int) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	candidates := make([]Peer, 0, len(t.peers))
	for id, p := range t.peers {
		if id > 0 && !exclude[id] {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return Peer{}, false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	return candidates[rnd(len(candidates))], true
}
