package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/griddeck/griddeck/internal/eventbus"
	"github.com/griddeck/griddeck/internal/shared"
)

// Message is the frame format on the UI socket, both directions.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Commands is the subset of router operations frontends may drive over the
// socket. Implemented by the event router.
type Commands interface {
	KeyDown(device string, key uint8)
	KeyUp(device string, key uint8)
	DialRotate(device string, dial uint8, ticks int16)
	DialDown(device string, dial uint8)
	DialUp(device string, dial uint8)
	SelectProfile(device, id string) error
	SwitchPropertyInspector(old, next *shared.ActionContext)
}

// Client represents one connected frontend.
type Client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	server *SocketServer
}

// SocketServer manages frontend WebSocket connections and fan-out of UI
// refresh events.
type SocketServer struct {
	commands   Commands
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
}

// NewSocketServer creates the UI socket server. The API binds to loopback
// only, so upgrades accept local origins and non-browser clients without an
// Origin header.
func NewSocketServer(commands Commands) *SocketServer {
	return &SocketServer{
		commands:   commands,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return localOrigin(r.Header.Get("Origin"))
			},
		},
	}
}

func localOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1", "tauri://", "file://"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// ClientCount returns the number of connected frontends.
func (s *SocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Run starts the socket server event loop.
func (s *SocketServer) Run() {
	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			s.mu.Unlock()

		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
			s.mu.Unlock()

		case message := <-s.broadcast:
			s.mu.RLock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					// Client's send channel is full, skip.
				}
			}
			s.mu.RUnlock()
		}
	}
}

// HandleWebSocket handles WebSocket connection upgrades.
func (s *SocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Frontend] upgrade error: %v", err)
		return
	}

	client := &Client{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.register <- client

	go client.writePump()
	go client.readPump()
}

// Broadcast fans a typed event out to every connected frontend.
func (s *SocketServer) Broadcast(eventType string, data any) {
	payload, err := json.Marshal(Message{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		log.Printf("[Frontend] marshal %s: %v", eventType, err)
		return
	}
	s.broadcast <- payload
}

// RunBus bridges the event bus onto the socket: every UI topic becomes a
// broadcast frame. Runs until ctx is cancelled.
func (s *SocketServer) RunBus(ctx context.Context, bus *eventbus.Bus, wg *sync.WaitGroup) {
	slots := eventbus.SubscribeTo(bus, eventbus.UISlot, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("frontend.slots"))
	keys := eventbus.SubscribeTo(bus, eventbus.UIKeyMoved, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("frontend.keys"))
	feedback := eventbus.SubscribeTo(bus, eventbus.UIFeedback, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("frontend.feedback"))
	deviceChanges := eventbus.SubscribeTo(bus, eventbus.UIDevices, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("frontend.devices"))
	pluginChanges := eventbus.SubscribeTo(bus, eventbus.UIPlugins, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("frontend.plugins"))
	profileSwitches := eventbus.SubscribeTo(bus, eventbus.UIProfiles, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("frontend.profiles"))
	pluginLogs := eventbus.SubscribeTo(bus, eventbus.PluginLog, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("frontend.logs"))

	wg.Add(7)
	go eventbus.Consume(ctx, slots, wg, func(event eventbus.SlotChangedEvent) {
		s.Broadcast("update_state", event)
	})
	go eventbus.Consume(ctx, keys, wg, func(event eventbus.KeyMovedEvent) {
		s.Broadcast("key_moved", event)
	})
	go eventbus.Consume(ctx, feedback, wg, func(event eventbus.InstanceFeedbackEvent) {
		s.Broadcast("show_"+event.Kind, event.Context.String())
	})
	go eventbus.Consume(ctx, deviceChanges, wg, func(event eventbus.DevicesChangedEvent) {
		s.Broadcast("devices", event.Devices)
	})
	go eventbus.Consume(ctx, pluginChanges, wg, func(eventbus.PluginsChangedEvent) {
		s.Broadcast("plugins", nil)
	})
	go eventbus.Consume(ctx, profileSwitches, wg, func(event eventbus.ProfileSwitchedEvent) {
		s.Broadcast("profile_switched", event)
	})
	go eventbus.Consume(ctx, pluginLogs, wg, func(event eventbus.PluginLogEvent) {
		s.Broadcast("plugin_log", event)
	})
}

func (c *Client) sendError(message string) {
	payload, err := json.Marshal(Message{
		Type:      "error",
		Data:      message,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// readPump reads command messages from the frontend.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Frontend] socket error: %v", err)
			}
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[Frontend] parse error: %v", err)
			continue
		}
		c.handleCommand(msg)
	}
}

func (c *Client) handleCommand(msg Message) {
	data, _ := msg.Data.(map[string]any)

	switch msg.Type {
	case "key_down", "key_up":
		device, _ := data["device"].(string)
		key, ok := toUint8(data["key"])
		if device == "" || !ok {
			c.sendError("key message missing device/key")
			return
		}
		if msg.Type == "key_down" {
			c.server.commands.KeyDown(device, key)
		} else {
			c.server.commands.KeyUp(device, key)
		}

	case "dial_rotate":
		device, _ := data["device"].(string)
		dial, okDial := toUint8(data["dial"])
		ticks, okTicks := toInt16(data["ticks"])
		if device == "" || !okDial || !okTicks {
			c.sendError("dial_rotate message missing device/dial/ticks")
			return
		}
		c.server.commands.DialRotate(device, dial, ticks)

	case "dial_down", "dial_up":
		device, _ := data["device"].(string)
		dial, ok := toUint8(data["dial"])
		if device == "" || !ok {
			c.sendError("dial message missing device/dial")
			return
		}
		if msg.Type == "dial_down" {
			c.server.commands.DialDown(device, dial)
		} else {
			c.server.commands.DialUp(device, dial)
		}

	case "select_profile":
		device, _ := data["device"].(string)
		profile, _ := data["profile"].(string)
		if device == "" || profile == "" {
			c.sendError("select_profile message missing device/profile")
			return
		}
		if err := c.server.commands.SelectProfile(device, profile); err != nil {
			c.sendError(err.Error())
		}

	case "switch_property_inspector":
		oldRaw, _ := data["old"].(string)
		newRaw, _ := data["new"].(string)
		var old, next *shared.ActionContext
		if oldRaw != "" {
			parsed, err := shared.ParseActionContext(oldRaw)
			if err != nil {
				c.sendError(err.Error())
				return
			}
			old = &parsed
		}
		if newRaw != "" {
			parsed, err := shared.ParseActionContext(newRaw)
			if err != nil {
				c.sendError(err.Error())
				return
			}
			next = &parsed
		}
		c.server.commands.SwitchPropertyInspector(old, next)

	default:
		c.sendError("unknown message type " + msg.Type)
	}
}

// writePump writes queued frames and keepalive pings to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func toUint8(value any) (uint8, bool) {
	number, ok := value.(float64)
	if !ok || number < 0 || number > 255 {
		return 0, false
	}
	return uint8(number), true
}

func toInt16(value any) (int16, bool) {
	number, ok := value.(float64)
	if !ok || number < -32768 || number > 32767 {
		return 0, false
	}
	return int16(number), true
}
