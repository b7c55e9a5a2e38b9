package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/confabhq/confab/internal/mediaworker/fakeworker"
	"github.com/confabhq/confab/internal/signal"
)

type nopConn struct{}

func (nopConn) ReadMessage() ([]byte, error) { return nil, nil }
func (nopConn) WriteJSON(interface{}) error  { return nil }
func (nopConn) Close() error                 { return nil }

func newTestMux(t *testing.T) (*http.ServeMux, *signal.Registry) {
	t.Helper()
	registry := signal.NewRegistry()
	mux := http.NewServeMux()
	NewHandler(registry).Register(mux)
	return mux, registry
}

func populate(t *testing.T, registry *signal.Registry, roomID string, peerIDs ...string) {
	t.Helper()
	worker := fakeworker.New()
	room, _, err := registry.EnsureRoom(roomID, func(id string) (*signal.Room, error) {
		return signal.NewRoom(id, worker, nil)
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, peerID := range peerIDs {
		if _, _, err := registry.AttachPeer(room, signal.NewPeer(peerID, peerID, roomID, nopConn{})); err != nil {
			t.Fatal(err)
		}
	}
}

func getJSON(t *testing.T, mux *http.ServeMux, path string, out interface{}) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec.Code
}

func TestListRooms(t *testing.T) {
	mux, registry := newTestMux(t)
	populate(t, registry, "room-1", "alice", "bob")
	populate(t, registry, "room-2", "carol")

	var body struct {
		Rooms []struct {
			ID        string `json:"id"`
			PeerCount int    `json:"peerCount"`
		} `json:"rooms"`
	}
	if code := getJSON(t, mux, "/v1/rooms", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(body.Rooms))
	}
	counts := map[string]int{}
	for _, r := range body.Rooms {
		counts[r.ID] = r.PeerCount
	}
	if counts["room-1"] != 2 || counts["room-2"] != 1 {
		t.Errorf("peer counts = %v", counts)
	}
}

func TestGetRoom(t *testing.T) {
	mux, registry := newTestMux(t)
	populate(t, registry, "room-1", "alice")

	var body struct {
		ID    string `json:"id"`
		Peers []struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"peers"`
	}
	if code := getJSON(t, mux, "/v1/rooms/room-1", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.ID != "room-1" || len(body.Peers) != 1 || body.Peers[0].ID != "alice" {
		t.Errorf("room detail = %+v", body)
	}

	var ignored map[string]interface{}
	if code := getJSON(t, mux, "/v1/rooms/absent", &ignored); code != http.StatusNotFound {
		t.Errorf("missing room status = %d, want 404", code)
	}
}

func TestStats(t *testing.T) {
	mux, registry := newTestMux(t)
	populate(t, registry, "room-1", "alice", "bob")

	var body struct {
		RoomCount int `json:"roomCount"`
		PeerCount int `json:"peerCount"`
	}
	if code := getJSON(t, mux, "/v1/stats", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.RoomCount != 1 || body.PeerCount != 2 {
		t.Errorf("stats = %+v", body)
	}
}
