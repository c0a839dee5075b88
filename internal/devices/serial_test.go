package devices

import (
	"fmt"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/creack/pty"
)

// recordedInput forwards router callbacks onto a channel so the test can
// assert ordering without sharing state with the listener goroutine.
type recordedInput struct {
	events chan string
}

func newRecordedInput() *recordedInput {
	return &recordedInput{events: make(chan string, 32)}
}

func (r *recordedInput) KeyDown(device string, key uint8) {
	r.events <- fmt.Sprintf("keyDown %s %d", device, key)
}

func (r *recordedInput) KeyUp(device string, key uint8) {
	r.events <- fmt.Sprintf("keyUp %s %d", device, key)
}

func (r *recordedInput) DialRotate(device string, dial uint8, ticks int16) {
	r.events <- fmt.Sprintf("dialRotate %s %d %d", device, dial, ticks)
}

func (r *recordedInput) DialDown(device string, dial uint8) {
	r.events <- fmt.Sprintf("dialDown %s %d", device, dial)
}

func (r *recordedInput) DialUp(device string, dial uint8) {
	r.events <- fmt.Sprintf("dialUp %s %d", device, dial)
}

func (r *recordedInput) next(t *testing.T) string {
	t.Helper()
	select {
	case event := <-r.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for input event")
		return ""
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestListenSerial drives the listener through a pty pair standing in for
// the usb serial tty.
func TestListenSerial(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pty pairs are not available on windows")
	}

	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Fatalf("pty.Open: %v", err)
	}
	defer ptmx.Close()

	registry := NewRegistry(nil)
	input := newRecordedInput()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ListenSerial(tty, registry, input)
	}()

	// The listener opens with a handshake request.
	handshake := make([]byte, 8)
	if _, err := io.ReadFull(ptmx, handshake); err != nil {
		t.Fatalf("read handshake: %v", err)
	}
	if string(handshake) != "register" {
		t.Fatalf("handshake = %q, want register", handshake)
	}

	// Newlines flush each chunk through the pty's line discipline; the
	// parser splits on closing braces and ignores the surrounding space.
	writeChunk := func(chunk string) {
		t.Helper()
		if _, err := ptmx.Write([]byte(chunk + "\n")); err != nil {
			t.Fatalf("write %q: %v", chunk, err)
		}
	}

	writeChunk(`{"address":"a1b2c3"}`)
	waitFor(t, "device registration", func() bool {
		_, ok := registry.GetDevice("pk-a1b2c3")
		return ok
	})
	info, _ := registry.GetDevice("pk-a1b2c3")
	if info.Rows != 3 || info.Columns != 3 || info.Sliders != 2 {
		t.Fatalf("unexpected geometry: %+v", info)
	}

	// Keys arrive 1-based with 0 meaning release of the last pressed key.
	writeChunk(`{"key":5}`)
	if got := input.next(t); got != "keyDown pk-a1b2c3 4" {
		t.Fatalf("event = %q", got)
	}
	writeChunk(`{"key":0}`)
	if got := input.next(t); got != "keyUp pk-a1b2c3 4" {
		t.Fatalf("event = %q", got)
	}

	// Sliders report absolute values; the listener emits deltas.
	writeChunk(`{"slider0":50}`)
	if got := input.next(t); got != "dialRotate pk-a1b2c3 0 50" {
		t.Fatalf("event = %q", got)
	}
	writeChunk(`{"slider0":30}`)
	if got := input.next(t); got != "dialRotate pk-a1b2c3 0 -20" {
		t.Fatalf("event = %q", got)
	}
	writeChunk(`{"slider1":7}`)
	if got := input.next(t); got != "dialRotate pk-a1b2c3 1 7" {
		t.Fatalf("event = %q", got)
	}

	// Garbage between objects must not wedge the parser.
	writeChunk(`not json}{"key":2}`)
	if got := input.next(t); got != "keyDown pk-a1b2c3 1" {
		t.Fatalf("event after garbage = %q", got)
	}

	// Closing the host side ends the listener and drops the device.
	ptmx.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not exit after port close")
	}
	if _, ok := registry.GetDevice("pk-a1b2c3"); ok {
		t.Error("device still registered after listener exit")
	}
}
