// Package daemon composes the hub: stores, device registry, plugin manager,
// socket broker, event router, asset webserver and frontend API, wired
// together and torn down in order.
package daemon

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/griddeck/griddeck/internal/broker"
	"github.com/griddeck/griddeck/internal/config"
	"github.com/griddeck/griddeck/internal/devices"
	"github.com/griddeck/griddeck/internal/eventbus"
	"github.com/griddeck/griddeck/internal/events"
	"github.com/griddeck/griddeck/internal/plugins"
	"github.com/griddeck/griddeck/internal/server"
	"github.com/griddeck/griddeck/internal/store"
	"github.com/griddeck/griddeck/internal/store/profiles"
	"github.com/griddeck/griddeck/internal/webserver"
)

// Default ports for the three localhost listeners. Plugins are compiled
// against the broker port, so it stays fixed across installs.
const (
	DefaultBrokerPort    = 57116
	DefaultAPIPort       = 57117
	DefaultWebserverPort = 57118
)

const shutdownTimeout = 5 * time.Second

// Options configures a daemon instance.
type Options struct {
	// Root overrides the config root. Empty means the default home.
	Root string
	// BundledPluginsDir holds plugins shipped with the application,
	// upgraded into the user's plugin directory at startup. Optional.
	BundledPluginsDir string

	BrokerPort    int
	APIPort       int
	WebserverPort int
}

// router-before-broker wiring: the broker needs an inbound handler and an
// ownership oracle at construction, but the router needs the broker as its
// sender. The proxy breaks the cycle.
type routerProxy struct {
	router *events.Router
}

func (p *routerProxy) HandleInbound(sender broker.Identity, frame broker.InboundFrame) {
	p.router.HandleInbound(sender, frame)
}

func (p *routerProxy) owner(context string) (string, error) {
	return p.router.Owner(context)
}

// managerProxy defers namespace and install lookups to the plugin manager,
// which is constructed after the registry and the broker.
type managerProxy struct {
	manager *plugins.Manager
}

func (p *managerProxy) NamespaceOwner(prefix string) (string, bool) {
	if p.manager == nil {
		return "", false
	}
	return p.manager.NamespaceOwner(prefix)
}

func (p *managerProxy) installed() []string {
	if p.manager == nil {
		return nil
	}
	return p.manager.Installed()
}

// catalogueView joins the manager's action catalogue with the broker's
// connection state for profile pruning decisions.
type catalogueView struct {
	manager *plugins.Manager
	broker  *broker.Broker
}

func (c catalogueView) HasAction(uuid string) bool      { return c.manager.HasAction(uuid) }
func (c catalogueView) PluginRegistered(id string) bool { return c.broker.Registered(id) }

// Daemon is the composed hub process.
type Daemon struct {
	opts     Options
	paths    config.Paths
	bus      *eventbus.Bus
	settings *store.SettingsStore
	registry *devices.Registry
	stores   *profiles.Stores
	manager  *plugins.Manager
	broker   *broker.Broker
	router   *events.Router
	web      *webserver.Server
	api      *server.APIServer

	cancel context.CancelFunc
	wg     sync.WaitGroup

	serialMu    sync.Mutex
	serialPorts []devices.SerialPort
}

// New wires the hub together and binds the broker listener, since plugins
// learn the broker port at construction time. The remaining listeners bind
// in Start. Any port left zero picks a free port.
func New(opts Options) (*Daemon, error) {
	paths := config.GetPaths(opts.Root)
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("daemon: prepare config root: %w", err)
	}

	settings, err := store.OpenSettings(paths)
	if err != nil {
		return nil, fmt.Errorf("daemon: load settings: %w", err)
	}

	bus := eventbus.New()

	mgrProxy := &managerProxy{}
	registry := devices.NewRegistry(mgrProxy)
	stores := profiles.NewStores(paths, registry)

	proxy := &routerProxy{}
	brk := broker.New(proxy, proxy.owner, mgrProxy.installed)
	if err := brk.Start(opts.BrokerPort); err != nil {
		return nil, err
	}

	manager := plugins.NewManager(plugins.Options{
		Paths:      paths,
		Bus:        bus,
		BrokerPort: brk.Port(),
		Devices:    registry,
		Language:   func() string { return settings.Get().Language },
	})
	mgrProxy.manager = manager

	router := events.NewRouter(brk, stores, registry, bus, paths)
	proxy.router = router

	stores.BindCatalogue(catalogueView{manager: manager, broker: brk})
	registry.SetHooks(devices.Hooks{
		OnRegister:   router.DeviceRegistered,
		OnDeregister: router.DeviceDeregistered,
	})

	web := webserver.New(paths.Root, func() bool { return settings.Get().Developer })

	api := server.New(server.Options{
		Router:   router,
		Registry: registry,
		Stores:   stores,
		Plugins:  manager,
		Broker:   brk,
		Settings: settings,
	})

	return &Daemon{
		opts:     opts,
		paths:    paths,
		bus:      bus,
		settings: settings,
		registry: registry,
		stores:   stores,
		manager:  manager,
		broker:   brk,
		router:   router,
		web:      web,
		api:      api,
	}, nil
}

// Start brings up the listeners and the plugin fleet. Non-blocking; the
// caller decides when to call Shutdown.
func (d *Daemon) Start() error {
	if err := writePIDFile(d.paths); err != nil {
		return err
	}

	if err := d.web.Start(d.opts.WebserverPort); err != nil {
		return err
	}
	if err := d.api.Start(d.opts.APIPort); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.api.Socket().RunBus(ctx, d.bus, &d.wg)

	if d.opts.BundledPluginsDir != "" {
		if err := d.manager.UpgradeBuiltins(d.opts.BundledPluginsDir); err != nil {
			log.Printf("[Daemon] builtin plugin upgrade: %v", err)
		}
	}
	if err := d.manager.InitialiseAll(ctx); err != nil {
		log.Printf("[Daemon] plugin startup: %v", err)
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.manager.Watch(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Daemon] plugin watcher: %v", err)
		}
	}()

	d.scanSerialPorts()
	d.applyStartupBrightness()

	log.Printf("[Daemon] broker :%d, webserver :%d, api :%d", d.broker.Port(), d.web.Port(), d.api.Port())
	return nil
}

func (d *Daemon) applyStartupBrightness() {
	d.router.SetBrightness(d.settings.Get().Brightness)
}

// Shutdown tears the hub down: plugins first so their disconnects are
// observed while the broker still runs, listeners after.
func (d *Daemon) Shutdown() error {
	if d.cancel != nil {
		d.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.manager.DeactivateAll(ctx)

	d.serialMu.Lock()
	for _, port := range d.serialPorts {
		_ = port.Close()
	}
	d.serialPorts = nil
	d.serialMu.Unlock()

	if err := d.api.Shutdown(ctx); err != nil {
		log.Printf("[Daemon] api shutdown: %v", err)
	}
	if err := d.web.Shutdown(ctx); err != nil {
		log.Printf("[Daemon] webserver shutdown: %v", err)
	}
	if err := d.broker.Shutdown(ctx); err != nil {
		log.Printf("[Daemon] broker shutdown: %v", err)
	}

	d.bus.Shutdown()
	d.wg.Wait()
	removePIDFile(d.paths)
	return nil
}

// APIServer exposes the frontend API for tests and the CLI.
func (d *Daemon) APIServer() *server.APIServer { return d.api }

// Registry exposes the device registry.
func (d *Daemon) Registry() *devices.Registry { return d.registry }

// Router exposes the event router.
func (d *Daemon) Router() *events.Router { return d.router }

// BrokerPort reports the bound plugin socket port.
func (d *Daemon) BrokerPort() int { return d.broker.Port() }
