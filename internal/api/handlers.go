// Package api wires up the Gin HTTP router for the debug-only
// observability surface: a peer's TCP listener speaks the wire
// protocol to other peers and clients, but operators need something
// they can curl. This router never touches the data path — Get/Put/
// Delete all go through internal/clientcli or internal/wire over TCP.
package api

import (
	"net/http"

	"ringkv/internal/membership"

	"github.com/gin-gonic/gin"
)

// Handler holds the dependencies a debug request needs.
type Handler struct {
	table    *membership.Table
	selfID   int
	role     string
	replicas int
}

// NewHandler creates a Handler. role is "Coordinator" or "Node",
// matching nodeproc.Role.String().
func NewHandler(table *membership.Table, selfID int, role string, replicationFactor int) *Handler {
	return &Handler{table: table, selfID: selfID, role: role, replicas: replicationFactor}
}

// Register mounts the debug routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/debug/ring", h.Ring)
}

// Health handles GET /health — a liveness probe reporting this peer's
// role, id, and how many data-bearing peers it currently sees.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"role":      h.role,
		"self_id":   h.selfID,
		"ring_size": h.table.RingSize(),
		"status":    "ok",
	})
}

// ringPeer is the JSON shape of one membership record in the
// /debug/ring dump.
type ringPeer struct {
	ID          int    `json:"id"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	IsDown      bool   `json:"is_down"`
	LastUpdated int64  `json:"last_updated"`
}

// Ring handles GET /debug/ring — the full membership view this peer
// currently holds, for inspecting gossip convergence and placement by
// hand.
func (h *Handler) Ring(c *gin.Context) {
	all := h.table.All()
	out := make([]ringPeer, 0, len(all))
	for _, p := range all {
		out = append(out, ringPeer{
			ID:          p.ID,
			Address:     p.Address,
			Status:      string(p.Status),
			IsDown:      p.IsDown,
			LastUpdated: p.LastUpdated,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"self_id":            h.selfID,
		"replication_factor": h.replicas,
		"ring_size":          h.table.RingSize(),
		"peers":              out,
	})
}
