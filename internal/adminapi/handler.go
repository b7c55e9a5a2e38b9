// Package adminapi exposes a read-only ops surface over the session
// registry: room listings and aggregate stats. It performs no auth and
// never mutates state.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/pitabwire/util"

	"github.com/confabhq/confab/internal/signal"
)

// Handler serves the admin endpoints.
type Handler struct {
	registry *signal.Registry
}

// NewHandler creates an admin handler over the registry.
func NewHandler(registry *signal.Registry) *Handler {
	return &Handler{registry: registry}
}

// Register mounts the admin routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/rooms", h.listRooms)
	mux.HandleFunc("GET /v1/rooms/{id}", h.getRoom)
	mux.HandleFunc("GET /v1/stats", h.stats)
}

type roomSummary struct {
	ID        string `json:"id"`
	PeerCount int    `json:"peerCount"`
	RouterID  string `json:"routerId"`
}

type peerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	State       string `json:"state"`
	Producers   int    `json:"producers"`
	Consumers   int    `json:"consumers"`
}

type roomDetail struct {
	ID       string     `json:"id"`
	RouterID string     `json:"routerId"`
	Peers    []peerInfo `json:"peers"`
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms := h.registry.Rooms()
	out := make([]roomSummary, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, roomSummary{
			ID:        room.ID(),
			PeerCount: room.PeerCount(),
			RouterID:  room.Router().ID(),
		})
	}
	writeJSON(w, r, map[string]interface{}{"rooms": out})
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.registry.Room(r.PathValue("id"))
	if !ok {
		http.Error(w, `{"error":"Room not found"}`, http.StatusNotFound)
		return
	}

	peers := room.Peers()
	infos := make([]peerInfo, 0, len(peers))
	for _, p := range peers {
		info := p.Info()
		infos = append(infos, peerInfo{
			ID:          info.ID,
			DisplayName: info.DisplayName,
			State:       info.State,
			Producers:   info.Producers,
			Consumers:   info.Consumers,
		})
	}
	writeJSON(w, r, roomDetail{ID: room.ID(), RouterID: room.Router().ID(), Peers: infos})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, h.registry.Stats())
}

func writeJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		util.Log(r.Context()).WithError(err).Error("adminapi: encode response")
	}
}
