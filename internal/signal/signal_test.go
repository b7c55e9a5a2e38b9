package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/confabhq/confab/internal/mediaworker/fakeworker"
)

// testConn records every frame written to it and feeds reads from an
// in-memory inbox. Closing it makes ReadMessage return io.EOF, the same
// way a dropped websocket does.
type testConn struct {
	mu     sync.Mutex
	frames [][]byte
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once
}

func newTestConn() *testConn {
	return &testConn{
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *testConn) ReadMessage() ([]byte, error) {
	select {
	case raw := <-c.inbox:
		return raw, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *testConn) WriteJSON(v interface{}) error {
	select {
	case <-c.closed:
		return fmt.Errorf("connection closed")
	default:
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.frames = append(c.frames, raw)
	c.mu.Unlock()
	return nil
}

func (c *testConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *testConn) feed(t *testing.T, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.inbox <- raw
}

// written returns all recorded frames decoded into generic maps.
func (c *testConn) written() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(c.frames))
	for _, raw := range c.frames {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

// framesOfType filters the recorded frames by their type field.
func (c *testConn) framesOfType(frameType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, m := range c.written() {
		if m["type"] == frameType {
			out = append(out, m)
		}
	}
	return out
}

func (c *testConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newTestDispatcher() (*Dispatcher, *fakeworker.Worker) {
	worker := fakeworker.New()
	return NewDispatcher(worker, NewRegistry(), nil, nil), worker
}

// roundTrip runs one request the way Serve does: dispatch, write the
// response to the connection, then run the notification callback. The
// decoded response is returned for assertions.
func roundTrip(t *testing.T, d *Dispatcher, conn *testConn, req interface{}) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	resp, post := d.dispatch(context.Background(), conn, raw)
	if resp == nil {
		t.Fatalf("no response for request %s", raw)
	}
	if err := conn.WriteJSON(resp); err != nil {
		t.Fatalf("write response: %v", err)
	}
	if post != nil {
		post()
	}

	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return m
}

// joinPeer joins a fresh connection into the room and fails the test on
// any error response.
func joinPeer(t *testing.T, d *Dispatcher, roomID, peerID, displayName string) *testConn {
	t.Helper()
	conn := newTestConn()
	resp := roundTrip(t, d, conn, map[string]interface{}{
		"type":        TypeJoinRoom,
		"roomId":      roomID,
		"peerId":      peerID,
		"displayName": displayName,
	})
	if errMsg, ok := resp["error"]; ok {
		t.Fatalf("join %q failed: %v", peerID, errMsg)
	}
	return conn
}

// setupSendTransport creates and connects a send transport for the peer
// bound to conn, returning the transport id.
func setupSendTransport(t *testing.T, d *Dispatcher, conn *testConn) string {
	t.Helper()
	return setupTransport(t, d, conn, DirectionSend)
}

func setupRecvTransport(t *testing.T, d *Dispatcher, conn *testConn) string {
	t.Helper()
	return setupTransport(t, d, conn, DirectionRecv)
}

func setupTransport(t *testing.T, d *Dispatcher, conn *testConn, direction string) string {
	t.Helper()
	resp := roundTrip(t, d, conn, map[string]interface{}{
		"type":      TypeCreateTransport,
		"direction": direction,
	})
	if errMsg, ok := resp["error"]; ok {
		t.Fatalf("create %s transport failed: %v", direction, errMsg)
	}
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatal("create transport returned no id")
	}

	resp = roundTrip(t, d, conn, map[string]interface{}{
		"type":           TypeConnectTransport,
		"transportId":    id,
		"dtlsParameters": map[string]interface{}{"role": "client"},
	})
	if errMsg, ok := resp["error"]; ok {
		t.Fatalf("connect transport failed: %v", errMsg)
	}
	return id
}

// produceMedia produces a stream for the peer bound to conn and returns
// the producer id. The peer must already hold a connected send transport.
func produceMedia(t *testing.T, d *Dispatcher, conn *testConn, kind, source string) string {
	t.Helper()
	req := map[string]interface{}{
		"type":          TypeProduce,
		"kind":          kind,
		"rtpParameters": map[string]interface{}{"codecs": []interface{}{}},
	}
	if source != "" {
		req["source"] = source
	}
	resp := roundTrip(t, d, conn, req)
	if errMsg, ok := resp["error"]; ok {
		t.Fatalf("produce %s failed: %v", kind, errMsg)
	}
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatal("produce returned no id")
	}
	return id
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
