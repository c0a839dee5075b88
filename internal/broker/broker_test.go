package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordedFrame struct {
	sender Identity
	frame  InboundFrame
}

type recordingHandler struct {
	mu     sync.Mutex
	frames []recordedFrame
}

func (h *recordingHandler) HandleInbound(sender Identity, frame InboundFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, recordedFrame{sender: sender, frame: frame})
}

func (h *recordingHandler) snapshot() []recordedFrame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]recordedFrame(nil), h.frames...)
}

func startBroker(t *testing.T, handler Handler, owner OwnerFunc) *Broker {
	t.Helper()
	if owner == nil {
		owner = func(string) (string, error) { return "", fmt.Errorf("no owner") }
	}
	b := New(handler, owner, func() []string { return nil })
	if err := b.Start(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Shutdown(ctx)
	})
	return b
}

func dialAndRegister(t *testing.T, b *Broker, event, uuid string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://127.0.0.1:%d/", b.Port()), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := conn.WriteJSON(map[string]string{"event": event, "uuid": uuid}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(message, &decoded); err != nil {
		t.Fatalf("decode %s: %v", message, err)
	}
	return decoded
}

func waitFrames(t *testing.T, handler *recordingHandler, n int) []recordedFrame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		frames := handler.snapshot()
		if len(frames) >= n {
			return frames
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d frames, want %d", len(frames), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestQueueFlushesInOrderOnRegistration(t *testing.T) {
	b := startBroker(t, &recordingHandler{}, nil)

	for i := 0; i < 3; i++ {
		if err := b.SendToPlugin("com.example.a", map[string]any{"event": "tick", "n": i}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if b.Registered("com.example.a") {
		t.Fatal("plugin reported registered before connecting")
	}

	conn := dialAndRegister(t, b, "registerPlugin", "com.example.a")
	for i := 0; i < 3; i++ {
		event := readEvent(t, conn)
		if event["n"] != float64(i) {
			t.Fatalf("frame %d out of order: %v", i, event)
		}
	}

	// A send after registration goes straight through.
	if err := b.SendToPlugin("com.example.a", map[string]any{"event": "tick", "n": 3}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if event := readEvent(t, conn); event["n"] != float64(3) {
		t.Fatalf("live frame: %v", event)
	}
}

func TestRegisteredTracksConnection(t *testing.T) {
	b := startBroker(t, &recordingHandler{}, nil)
	conn := dialAndRegister(t, b, "registerPlugin", "com.example.a")

	deadline := time.Now().Add(2 * time.Second)
	for !b.Registered("com.example.a") {
		if time.Now().After(deadline) {
			t.Fatal("plugin never reported registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	for b.Registered("com.example.a") {
		if time.Now().After(deadline) {
			t.Fatal("plugin still registered after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestContextFramesRequireOwnership(t *testing.T) {
	handler := &recordingHandler{}
	owners := map[string]string{
		"dev.Default.Keypad.0.0": "com.example.a",
		"dev.Default.Keypad.1.0": "com.example.b",
	}
	b := startBroker(t, handler, func(ctx string) (string, error) {
		if owner, ok := owners[ctx]; ok {
			return owner, nil
		}
		return "", fmt.Errorf("unknown context %s", ctx)
	})

	conn := dialAndRegister(t, b, "registerPlugin", "com.example.a")

	send := func(ctx string) {
		t.Helper()
		if err := conn.WriteJSON(map[string]any{
			"event":   "setSettings",
			"context": ctx,
			"payload": map[string]any{"count": 1},
		}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send("dev.Default.Keypad.1.0") // someone else's instance
	send("dev.Default.Keypad.0.0")

	frames := waitFrames(t, handler, 1)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want the foreign one dropped", len(frames))
	}
	if frames[0].frame.Context != "dev.Default.Keypad.0.0" {
		t.Fatalf("wrong frame passed: %+v", frames[0].frame)
	}
	if frames[0].sender != (Identity{Kind: KindPlugin, ID: "com.example.a"}) {
		t.Fatalf("sender = %+v", frames[0].sender)
	}
}

func TestGlobalSettingsRequireMatchingUUID(t *testing.T) {
	handler := &recordingHandler{}
	b := startBroker(t, handler, nil)
	conn := dialAndRegister(t, b, "registerPlugin", "com.example.a")

	writeGlobal := func(uuid string) {
		t.Helper()
		if err := conn.WriteJSON(map[string]any{
			"event":   "setGlobalSettings",
			"context": uuid,
			"payload": map[string]any{"theme": "dark"},
		}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	writeGlobal("com.example.b")
	writeGlobal("com.example.a")

	frames := waitFrames(t, handler, 1)
	if len(frames) != 1 || frames[0].frame.Context != "com.example.a" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestInspectorActsForOwningPlugin(t *testing.T) {
	handler := &recordingHandler{}
	piContext := "dev.Default.Keypad.2.0"
	b := startBroker(t, handler, func(ctx string) (string, error) {
		if ctx == piContext {
			return "com.example.a", nil
		}
		return "", fmt.Errorf("unknown context %s", ctx)
	})

	conn := dialAndRegister(t, b, "registerPropertyInspector", piContext)

	// An inspector may message its own plugin.
	if err := conn.WriteJSON(map[string]any{
		"event":   "sendToPlugin",
		"context": piContext,
		"payload": map[string]any{"hello": true},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	frames := waitFrames(t, handler, 1)
	if frames[0].sender.Kind != KindInspector || frames[0].sender.ID != piContext {
		t.Fatalf("sender = %+v", frames[0].sender)
	}

	// The reverse relay direction is not accepted from an inspector.
	if err := conn.WriteJSON(map[string]any{
		"event":   "sendToPropertyInspector",
		"context": piContext,
		"payload": map[string]any{},
	}); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(handler.snapshot()); got != 1 {
		t.Fatalf("inspector relay frame passed authorization, frames=%d", got)
	}

	// Delivery to the inspector rides its context.
	if err := b.SendToPropertyInspector(piContext, map[string]any{"event": "didReceiveSettings"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if event := readEvent(t, conn); event["event"] != "didReceiveSettings" {
		t.Fatalf("inspector got %v", event)
	}
}

func TestSendToAllPluginsCoversUnconnected(t *testing.T) {
	handler := &recordingHandler{}
	b := New(handler, func(string) (string, error) { return "", fmt.Errorf("no owner") },
		func() []string { return []string{"com.example.a", "com.example.b"} })
	if err := b.Start(0); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		b.Shutdown(ctx)
	}()

	if err := b.SendToAllPlugins(map[string]string{"event": "deviceDidConnect"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	// Both plugins see the frame when they eventually register.
	for _, id := range []string{"com.example.a", "com.example.b"} {
		conn := dialAndRegister(t, b, "registerPlugin", id)
		if event := readEvent(t, conn); event["event"] != "deviceDidConnect" {
			t.Fatalf("%s got %v", id, event)
		}
	}
}

func TestDropDiscardsQueue(t *testing.T) {
	b := startBroker(t, &recordingHandler{}, nil)

	if err := b.SendToPlugin("com.example.a", map[string]string{"event": "stale"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	b.Drop(Identity{Kind: KindPlugin, ID: "com.example.a"})

	conn := dialAndRegister(t, b, "registerPlugin", "com.example.a")
	if err := b.SendToPlugin("com.example.a", map[string]string{"event": "fresh"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if event := readEvent(t, conn); event["event"] != "fresh" {
		t.Fatalf("stale frame survived the drop: %v", event)
	}
}
