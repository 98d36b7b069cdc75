package membership

import (
	"testing"

	"ringkv/internal/wire"
)

func TestMergeInsertsUnknownPeer(t *testing.T) {
	tbl := New(Peer{ID: 0, Status: wire.StatusCoordinator, Address: "c", LastUpdated: 1})
	changed := tbl.Merge(Peer{ID: 1, Status: wire.StatusNode, Address: "n1", LastUpdated: 5})
	if !changed {
		t.Fatal("expected merge of unknown peer to apply")
	}
	p, ok := tbl.Get(1)
	if !ok || p.Address != "n1" {
		t.Fatalf("peer 1 not stored correctly: %+v", p)
	}
}

func TestMergeMonotonicity(t *testing.T) {
	tbl := New(Peer{ID: 0, Status: wire.StatusCoordinator, LastUpdated: 1})
	tbl.Merge(Peer{ID: 1, Address: "old", LastUpdated: 10})

	// Older update must be ignored.
	changed := tbl.Merge(Peer{ID: 1, Address: "stale", LastUpdated: 5})
	if changed {
		t.Fatal("merge must not apply an older record")
	}
	p, _ := tbl.Get(1)
	if p.Address != "old" {
		t.Fatalf("expected address to remain %q, got %q", "old", p.Address)
	}

	// Newer update must apply.
	changed = tbl.Merge(Peer{ID: 1, Address: "new", LastUpdated: 20})
	if !changed {
		t.Fatal("merge must apply a newer record")
	}
	p, _ = tbl.Get(1)
	if p.Address != "new" || p.LastUpdated != 20 {
		t.Fatalf("expected updated record, got %+v", p)
	}
}

func TestRingSizeExcludesReservedIDs(t *testing.T) {
	tbl := New(Peer{ID: 0, Status: wire.StatusCoordinator, LastUpdated: 1})
	tbl.Merge(Peer{ID: -1, Status: wire.StatusClient, LastUpdated: 1})
	tbl.Merge(Peer{ID: 1, Status: wire.StatusNode, LastUpdated: 1})
	tbl.Merge(Peer{ID: 2, Status: wire.StatusNode, LastUpdated: 1})

	if got := tbl.RingSize(); got != 2 {
		t.Fatalf("expected ring size 2, got %d", got)
	}
}

func TestSnapshotExcludesHostAndClients(t *testing.T) {
	tbl := New(Peer{ID: 0, Status: wire.StatusCoordinator, LastUpdated: 1})
	tbl.Merge(Peer{ID: -1, Status: wire.StatusClient, LastUpdated: 1})
	tbl.Merge(Peer{ID: 1, Status: wire.StatusNode, Address: "n1", LastUpdated: 1})
	tbl.Merge(Peer{ID: 2, Status: wire.StatusNode, Address: "n2", LastUpdated: 1})

	snap := tbl.Snapshot(1) // pretend we're sending to peer 1
	for _, p := range snap {
		if p.ID == 1 {
			t.Fatal("snapshot must exclude the receiving host's own record")
		}
		if p.Status == wire.StatusClient {
			t.Fatal("snapshot must exclude Client peers")
		}
	}
	if len(snap) != 2 { // coordinator (0) + node 2
		t.Fatalf("expected 2 entries in snapshot, got %d: %+v", len(snap), snap)
	}
}

func TestNextIDMonotonic(t *testing.T) {
	tbl := New(Peer{ID: 0, Status: wire.StatusCoordinator, LastUpdated: 1})
	a := tbl.NextID()
	b := tbl.NextID()
	if b != a+1 {
		t.Fatalf("expected monotonic ids, got %d then %d", a, b)
	}
}

func TestSortedDataIDsAndReplicaAt(t *testing.T) {
	tbl := New(Peer{ID: 0, Status: wire.StatusCoordinator, LastUpdated: 1})
	tbl.Merge(Peer{ID: 5, Status: wire.StatusNode, Address: "five", LastUpdated: 1})
	tbl.Merge(Peer{ID: 2, Status: wire.StatusNode, Address: "two", LastUpdated: 1})

	ids := tbl.SortedDataIDs()
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 5 {
		t.Fatalf("unexpected sorted ids: %v", ids)
	}

	p, ok := tbl.ReplicaAt(0)
	if !ok || p.ID != 2 {
		t.Fatalf("expected position 0 to resolve to id 2, got %+v ok=%v", p, ok)
	}
}

func TestMarkDownAndClearDown(t *testing.T) {
	tbl := New(Peer{ID: 0, Status: wire.StatusCoordinator, LastUpdated: 1})
	tbl.Merge(Peer{ID: 1, Status: wire.StatusNode, LastUpdated: 1})

	tbl.MarkDown(1, 100)
	p, _ := tbl.Get(1)
	if !p.IsDown {
		t.Fatal("expected peer to be marked down")
	}

	tbl.ClearDown(1, 200)
	p, _ = tbl.Get(1)
	if p.IsDown {
		t.Fatal("expected down flag to be cleared")
	}
}

func TestAllIncludesSelfAndIsSortedByID(t *testing.T) {
	tbl := New(Peer{ID: 0, Status: wire.StatusCoordinator, LastUpdated: 1})
	tbl.Merge(Peer{ID: 2, Status: wire.StatusNode, LastUpdated: 1})
	tbl.Merge(Peer{ID: 1, Status: wire.StatusNode, LastUpdated: 1})

	all := tbl.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 peers, got %d", len(all))
	}
	for i, want := range []int{0, 1, 2} {
		if all[i].ID != want {
			t.Fatalf("expected sorted ids [0 1 2], got %+v", all)
		}
	}
}
