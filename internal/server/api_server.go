// Package server exposes the hub to frontends: a localhost JSON API for
// commands and a WebSocket that streams UI refresh events off the bus.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/griddeck/griddeck/internal/broker"
	"github.com/griddeck/griddeck/internal/devices"
	"github.com/griddeck/griddeck/internal/events"
	"github.com/griddeck/griddeck/internal/plugins"
	"github.com/griddeck/griddeck/internal/shared"
	"github.com/griddeck/griddeck/internal/store"
	"github.com/griddeck/griddeck/internal/store/profiles"
)

// PluginHost is the plugin lifecycle surface the API exposes. Implemented by
// the plugin manager.
type PluginHost interface {
	Categories() map[string][]shared.Action
	Action(uuid string) (shared.Action, bool)
	InstalledVersion(pluginID string) (string, bool)
	Install(ctx context.Context, pluginID string, archive []byte, extract plugins.ExtractFunc) error
	Remove(ctx context.Context, pluginID string) error
	Reload(ctx context.Context, pluginID string) error
}

// ConnectionBroker is the plugin socket view the API needs: connection state
// for the plugin listing and endpoint teardown on uninstall.
type ConnectionBroker interface {
	Registered(pluginID string) bool
	Drop(identity broker.Identity)
}

// Options wires an APIServer to the rest of the hub.
type Options struct {
	Router   *events.Router
	Registry *devices.Registry
	Stores   *profiles.Stores
	Plugins  PluginHost
	Broker   ConnectionBroker
	Settings *store.SettingsStore
}

// APIServer serves the frontend command API and the UI WebSocket.
type APIServer struct {
	router   *events.Router
	registry *devices.Registry
	stores   *profiles.Stores
	plugins  PluginHost
	broker   ConnectionBroker
	settings *store.SettingsStore

	ordinalMu sync.Mutex
	ordinal   int

	ws         *SocketServer
	wsRunOnce  sync.Once
	httpServer *http.Server
	listener   net.Listener
}

// New constructs the API server. Call Start to begin serving.
func New(opts Options) *APIServer {
	s := &APIServer{
		router:   opts.Router,
		registry: opts.Registry,
		stores:   opts.Stores,
		plugins:  opts.Plugins,
		broker:   opts.Broker,
		settings: opts.Settings,
	}
	s.ws = NewSocketServer(opts.Router)
	return s
}

// Socket returns the UI WebSocket server so the daemon can feed it bus
// events.
func (s *APIServer) Socket() *SocketServer {
	return s.ws
}

// Handler builds the route table. Split out so tests can drive the API
// without a listener.
func (s *APIServer) Handler() http.Handler {
	s.wsRunOnce.Do(func() {
		go s.ws.Run()
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.ws.HandleWebSocket)
	mux.HandleFunc("/devices", s.handleDevices)
	mux.HandleFunc("/profiles", s.handleProfiles)
	mux.HandleFunc("/instances", s.handleInstances)
	mux.HandleFunc("/instances/move", s.handleInstanceMove)
	mux.HandleFunc("/settings", s.handleSettings)
	mux.HandleFunc("/plugins", s.handlePlugins)
	mux.HandleFunc("/plugins/install", s.handlePluginInstall)
	mux.HandleFunc("/plugins/remove", s.handlePluginRemove)
	mux.HandleFunc("/plugins/reload", s.handlePluginReload)
	mux.HandleFunc("/plugins/info", s.handlePluginInfo)
	mux.HandleFunc("/inspector", s.handleInspector)
	mux.HandleFunc("/input/key", s.handleInputKey)
	mux.HandleFunc("/input/dial", s.handleInputDial)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Start binds the loopback listener. Port 0 picks a free port.
func (s *APIServer) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{Handler: s.Handler()}
	go func() {
		_ = s.httpServer.Serve(listener)
	}()
	return nil
}

// Port reports the bound API port.
func (s *APIServer) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Shutdown gracefully shuts down the HTTP server.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
