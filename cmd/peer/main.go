// cmd/peer is the entrypoint for one Coordinator or Node process.
//
// Configuration is entirely via flags, the way the teacher's
// cmd/server does it, so a single binary can serve either role.
//
// Example — one coordinator and two nodes on localhost:
//
//	./peer --role coordinator --addr :9000 --debug-addr :9100 --data-dir /tmp/ringkv/c
//	./peer --role node --addr :9001 --debug-addr :9101 --coordinator :9000 --data-dir /tmp/ringkv/n1
//	./peer --role node --addr :9002 --debug-addr :9102 --coordinator :9000 --data-dir /tmp/ringkv/n2
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ringkv/internal/api"
	"ringkv/internal/nodeproc"
	"ringkv/internal/store"
	"ringkv/internal/transport"

	"github.com/gin-gonic/gin"
)

func main() {
	role := flag.String("role", "node", `Peer role: "coordinator" or "node"`)
	addr := flag.String("addr", ":8080", "Wire protocol listen address (host:port)")
	debugAddr := flag.String("debug-addr", ":9100", "Debug HTTP listen address (host:port)")
	coordinatorAddr := flag.String("coordinator", "", "Coordinator's wire address (required for --role node)")
	dataDir := flag.String("data-dir", "/tmp/ringkv", "Directory for WAL and snapshots")
	replicationFactor := flag.Int("replicas", 3, "Replication factor (Coordinator role only)")
	timeout := flag.Duration("timeout", 2*time.Second, "Network timeout for every send/accept")
	flag.Parse()

	if *role == "node" && *coordinatorAddr == "" {
		log.Fatal("FATAL: --coordinator is required for --role node")
	}

	st, err := store.Open(*dataDir)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ln, err := transport.Listen(*addr, *timeout)
	if err != nil {
		log.Fatalf("listen %s: %v", *addr, err)
	}
	dialer := transport.NewDialer(*timeout)

	var peer *nodeproc.Peer
	switch *role {
	case "coordinator":
		peer = nodeproc.NewCoordinator(*addr, st, dialer, ln, *replicationFactor)
	case "node":
		peer = nodeproc.NewNode(*addr, *coordinatorAddr, st, dialer, ln)
		if err := peer.Join(); err != nil {
			log.Fatalf("join %s: %v", *coordinatorAddr, err)
		}
	default:
		log.Fatalf("FATAL: unknown role %q, expected coordinator or node", *role)
	}

	roleLabel := "Node"
	if *role == "coordinator" {
		roleLabel = "Coordinator"
	}

	go func() {
		log.Printf("%s %d listening on %s, debug on %s", roleLabel, peer.SelfID(), *addr, *debugAddr)
		if err := peer.Run(); err != nil {
			log.Fatalf("dispatch loop: %v", err)
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(api.Logger(), api.Recovery())
	api.NewHandler(peer.Table(), peer.SelfID(), roleLabel, *replicationFactor).Register(router)

	debugSrv := &http.Server{
		Addr:         *debugAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("debug server error: %v", err)
		}
	}()

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := st.Snapshot(); err != nil {
				log.Printf("snapshot error: %v", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down %s %d", roleLabel, peer.SelfID())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := st.Snapshot(); err != nil {
		log.Printf("final snapshot error: %v", err)
	}
	ln.Close()
	if err := debugSrv.Shutdown(ctx); err != nil {
		log.Printf("debug server shutdown error: %v", err)
	}
	fmt.Println("goodbye")
}
