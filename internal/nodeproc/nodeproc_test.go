package nodeproc

import (
	"testing"
	"time"

	"ringkv/internal/store"
	"ringkv/internal/transport"
	"ringkv/internal/wire"
)

func newPeer(t *testing.T, st *store.Store, role Role, coordinatorAddr string, rf int) (*Peer, *transport.Listener) {
	t.Helper()
	ln, err := transport.Listen("127.0.0.1:0", time.Second)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	dialer := transport.NewDialer(time.Second)

	var p *Peer
	if role == RoleCoordinator {
		p = NewCoordinator(ln.Addr().String(), st, dialer, ln, rf)
	} else {
		p = NewNode(ln.Addr().String(), coordinatorAddr, st, dialer, ln)
	}
	t.Cleanup(func() { ln.Close() })
	return p, ln
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestSingleCoordinatorWriteRead reproduces the single-coordinator
// write/read scenario: one Coordinator, one Node joined to it, one
// client-style round trip performing Write then Read through the
// Coordinator.
func TestSingleCoordinatorWriteRead(t *testing.T) {
	coordStore := openStore(t)
	coord, coordLn := newPeer(t, coordStore, RoleCoordinator, "", 2)
	go coord.Run()

	nodeStore := openStore(t)
	node, nodeLn := newPeer(t, nodeStore, RoleNode, coordLn.Addr().String(), 2)
	if err := node.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	go node.Run()
	_ = nodeLn

	dialer := transport.NewDialer(time.Second)

	writeReply, err := dialer.Send(coordLn.Addr().String(), wire.Message{
		Type: wire.ClientWriteRequest, SourceID: wire.ClientID, Key: "A", Value: "hello",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if writeReply.Type != wire.ClientWriteResponse {
		t.Fatalf("expected ClientWriteResponse, got %+v", writeReply)
	}

	readReply, err := dialer.Send(coordLn.Addr().String(), wire.Message{
		Type: wire.ClientReadRequest, SourceID: wire.ClientID, Key: "A",
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if readReply.Type != wire.ClientReadResponse || readReply.Value != "hello" {
		t.Fatalf("expected ClientReadResponse{Value: hello}, got %+v", readReply)
	}
}

// TestReadMissingKeyReturnsFailure exercises the KeyNotFound path
// through the real dispatch loop.
func TestReadMissingKeyReturnsFailure(t *testing.T) {
	coordStore := openStore(t)
	coord, coordLn := newPeer(t, coordStore, RoleCoordinator, "", 2)
	go coord.Run()

	nodeStore := openStore(t)
	node, _ := newPeer(t, nodeStore, RoleNode, coordLn.Addr().String(), 2)
	if err := node.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	go node.Run()

	dialer := transport.NewDialer(time.Second)
	reply, err := dialer.Send(coordLn.Addr().String(), wire.Message{
		Type: wire.ClientReadRequest, SourceID: wire.ClientID, Key: "missing",
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if reply.Type != wire.FailureIndication || reply.Failed != "Key does not exist" {
		t.Fatalf("expected FailureIndication(Key does not exist), got %+v", reply)
	}
}
