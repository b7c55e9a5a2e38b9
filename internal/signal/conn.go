package signal

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pitabwire/util"
)

// Conn is a framed bidirectional JSON message stream to one participant.
// Implementations must allow concurrent WriteJSON calls.
type Conn interface {
	// ReadMessage blocks for the next text frame.
	ReadMessage() ([]byte, error)
	// WriteJSON marshals v and writes it as one frame.
	WriteJSON(v interface{}) error
	Close() error
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn wraps a gorilla websocket connection with a write mutex so
// broadcasts and responses can interleave safely.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, raw, err := c.conn.ReadMessage()
	return raw, err
}

func (c *wsConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// Handler returns the HTTP handler for the signaling endpoint. Each
// upgraded connection is served by the dispatcher until it closes.
func Handler(d *Dispatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := util.Log(r.Context())

		raw, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Error("signal: websocket upgrade failed")
			return
		}

		conn := &wsConn{conn: raw}
		defer conn.Close()

		log.Debug("signal: connection open")
		d.Serve(r.Context(), conn)
		log.Debug("signal: connection closed")
	})
}
