// Package broker owns the local socket every plugin and property inspector
// registers on. It queues frames for endpoints that have not connected yet,
// preserves per-endpoint ordering, and dispatches inbound traffic to the
// event router with the sender already authorized.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Kind distinguishes the two endpoint populations on the socket.
type Kind string

const (
	KindPlugin    Kind = "plugin"
	KindInspector Kind = "propertyInspector"
)

// Identity names one registered endpoint: a plugin by its id, a property
// inspector by the full context string of the instance it edits.
type Identity struct {
	Kind Kind
	ID   string
}

// InboundFrame is the envelope every endpoint frame shares. Context doubles
// as the plugin uuid on the global-settings events; Payload stays raw for
// the router to decode per event.
type InboundFrame struct {
	Event   string          `json:"event"`
	UUID    string          `json:"uuid,omitempty"`
	Context string          `json:"context,omitempty"`
	Action  string          `json:"action,omitempty"`
	Device  string          `json:"device,omitempty"`
	Profile string          `json:"profile,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler consumes authorized inbound frames.
type Handler interface {
	HandleInbound(sender Identity, frame InboundFrame)
}

// OwnerFunc resolves the plugin owning the instance at a context string.
type OwnerFunc func(context string) (string, error)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// endpoint is the per-identity send side: a write-locked connection plus the
// frames queued while nothing is connected. The single mutex makes queueing,
// flushing and direct sends totally ordered per identity.
type endpoint struct {
	kind Kind

	mu    sync.Mutex
	conn  *websocket.Conn
	queue [][]byte
}

func (e *endpoint) deliver(payload []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		e.queue = append(e.queue, payload)
		framesQueued.WithLabelValues(string(e.kind)).Inc()
		return
	}
	e.write(payload)
}

// write sends one frame on the attached connection. Callers hold e.mu.
func (e *endpoint) write(payload []byte) {
	e.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := e.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Printf("[Broker] write to %s failed: %v", e.kind, err)
		e.conn.Close()
		e.conn = nil
		return
	}
	framesOut.WithLabelValues(string(e.kind)).Inc()
}

// attach installs a freshly registered connection and flushes the pending
// queue in arrival order.
func (e *endpoint) attach(conn *websocket.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn != nil {
		e.conn.Close()
	}
	e.conn = conn
	for _, payload := range e.queue {
		if e.conn == nil {
			break
		}
		e.write(payload)
	}
	e.queue = nil
}

// detach forgets the connection if it is still the attached one. Frames sent
// afterwards queue again.
func (e *endpoint) detach(conn *websocket.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == conn {
		e.conn = nil
	}
}

func (e *endpoint) connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Broker is the websocket server side of the plugin protocol.
type Broker struct {
	handler   Handler
	owner     OwnerFunc
	installed func() []string

	mu        sync.Mutex
	endpoints map[Identity]*endpoint

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener
}

// New wires a broker to its frame handler. owner resolves context ownership
// for authorization; installed enumerates plugin ids for broadcasts.
func New(handler Handler, owner OwnerFunc, installed func() []string) *Broker {
	return &Broker{
		handler:   handler,
		owner:     owner,
		installed: installed,
		endpoints: make(map[Identity]*endpoint),
		upgrader: websocket.Upgrader{
			// The listener binds loopback only; plugin processes and the
			// hidden page host connect without a meaningful Origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start binds the loopback listener. Port 0 picks an ephemeral port,
// readable via Port afterwards.
func (b *Broker) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("broker: listen: %w", err)
	}
	b.listener = listener
	b.server = &http.Server{Handler: http.HandlerFunc(b.handleUpgrade)}
	go func() {
		if err := b.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[Broker] serve: %v", err)
		}
	}()
	log.Printf("[Broker] listening on %s", listener.Addr())
	return nil
}

// Port reports the bound TCP port.
func (b *Broker) Port() int {
	if b.listener == nil {
		return 0
	}
	return b.listener.Addr().(*net.TCPAddr).Port
}

// Shutdown closes the listener and every registered connection.
func (b *Broker) Shutdown(ctx context.Context) error {
	var err error
	if b.server != nil {
		err = b.server.Shutdown(ctx)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.endpoints {
		e.mu.Lock()
		if e.conn != nil {
			e.conn.Close()
			e.conn = nil
		}
		e.mu.Unlock()
	}
	return err
}

// Registered reports whether the plugin currently holds an open socket.
func (b *Broker) Registered(pluginID string) bool {
	b.mu.Lock()
	e, ok := b.endpoints[Identity{Kind: KindPlugin, ID: pluginID}]
	b.mu.Unlock()
	return ok && e.connected()
}

// Drop closes and forgets an identity's endpoint, discarding its queue.
// Used when the owning plugin is deactivated or removed.
func (b *Broker) Drop(identity Identity) {
	b.mu.Lock()
	e, ok := b.endpoints[identity]
	if ok {
		delete(b.endpoints, identity)
	}
	b.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.queue = nil
	e.mu.Unlock()
}

func (b *Broker) endpoint(identity Identity) *endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.endpoints[identity]
	if !ok {
		e = &endpoint{kind: identity.Kind}
		b.endpoints[identity] = e
	}
	return e
}

// SendToPlugin delivers one event to a plugin, queueing it until the plugin
// registers.
func (b *Broker) SendToPlugin(pluginID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broker: encode event: %w", err)
	}
	b.endpoint(Identity{Kind: KindPlugin, ID: pluginID}).deliver(payload)
	return nil
}

// SendToAllPlugins delivers one event to every installed plugin, connected
// or not.
func (b *Broker) SendToAllPlugins(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broker: encode event: %w", err)
	}
	for _, pluginID := range b.installed() {
		b.endpoint(Identity{Kind: KindPlugin, ID: pluginID}).deliver(payload)
	}
	return nil
}

// SendToPropertyInspector delivers one event to the inspector editing the
// given context.
func (b *Broker) SendToPropertyInspector(context string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broker: encode event: %w", err)
	}
	b.endpoint(Identity{Kind: KindInspector, ID: context}).deliver(payload)
	return nil
}

type registrationFrame struct {
	Event string `json:"event"`
	UUID  string `json:"uuid"`
}

func (b *Broker) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Broker] upgrade: %v", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, first, err := conn.ReadMessage()
	if err != nil {
		log.Printf("[Broker] connection dropped before registering: %v", err)
		conn.Close()
		return
	}

	var reg registrationFrame
	if err := json.Unmarshal(first, &reg); err != nil || reg.UUID == "" {
		log.Printf("[Broker] malformed registration frame: %s", first)
		conn.Close()
		return
	}

	var identity Identity
	switch reg.Event {
	case "registerPlugin":
		identity = Identity{Kind: KindPlugin, ID: reg.UUID}
	case "registerPropertyInspector":
		identity = Identity{Kind: KindInspector, ID: reg.UUID}
	default:
		log.Printf("[Broker] unknown registration event %q from %s", reg.Event, reg.UUID)
		conn.Close()
		return
	}

	conn.SetReadDeadline(time.Time{})
	log.Printf("[Broker] %s %s registered", identity.Kind, identity.ID)

	e := b.endpoint(identity)
	e.attach(conn)
	go b.readLoop(identity, e, conn)
}

func (b *Broker) readLoop(identity Identity, e *endpoint, conn *websocket.Conn) {
	defer func() {
		e.detach(conn)
		conn.Close()
		log.Printf("[Broker] %s %s disconnected", identity.Kind, identity.ID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("[Broker] read from %s %s: %v", identity.Kind, identity.ID, err)
			}
			return
		}
		framesIn.WithLabelValues(string(identity.Kind)).Inc()

		var frame InboundFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Printf("[Broker] malformed frame from %s %s: %v", identity.Kind, identity.ID, err)
			continue
		}
		if !b.authorized(identity, frame) {
			framesUnauthorized.WithLabelValues(frame.Event).Inc()
			continue
		}
		if b.handler != nil {
			b.handler.HandleInbound(identity, frame)
		}
	}
}

// senderPlugin maps an endpoint to the plugin it acts for. Inspectors act
// for whichever plugin owns the instance they edit.
func (b *Broker) senderPlugin(identity Identity) (string, error) {
	if identity.Kind == KindPlugin {
		return identity.ID, nil
	}
	return b.owner(identity.ID)
}

// contextEvents name an instance; they are only honoured when the sender's
// plugin owns that instance.
var contextEvents = map[string]bool{
	"setSettings":             true,
	"getSettings":             true,
	"setTitle":                true,
	"setImage":                true,
	"setState":                true,
	"showAlert":               true,
	"showOk":                  true,
	"sendToPropertyInspector": true,
	"sendToPlugin":            true,
}

func (b *Broker) authorized(identity Identity, frame InboundFrame) bool {
	// Relay direction is fixed: plugins talk to inspectors, inspectors to
	// plugins.
	if frame.Event == "sendToPlugin" && identity.Kind == KindPlugin {
		return false
	}
	if frame.Event == "sendToPropertyInspector" && identity.Kind == KindInspector {
		return false
	}

	switch frame.Event {
	case "setGlobalSettings", "getGlobalSettings":
		sender, err := b.senderPlugin(identity)
		if err != nil {
			return false
		}
		return frame.Context == sender
	}

	if contextEvents[frame.Event] && frame.Context != "" {
		sender, err := b.senderPlugin(identity)
		if err != nil {
			return false
		}
		owner, err := b.owner(frame.Context)
		if err != nil {
			return false
		}
		return owner == sender
	}
	return true
}
