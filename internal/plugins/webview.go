package plugins

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/gorilla/websocket"
)

// webviewInstance hosts an html plugin's scripts without a visible browser
// window. A single goroutine owns the goja VM; timers and socket events are
// funneled onto it through a job channel.
type webviewInstance struct {
	pluginID string
	vm       *goja.Runtime
	jobs     chan func()
	quit     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	sockets []*websocket.Conn
}

var scriptTagPattern = regexp.MustCompile(`(?is)<script([^>]*)>(.*?)</script>`)
var scriptSrcPattern = regexp.MustCompile(`(?i)src\s*=\s*["']([^"']+)["']`)

// pageScripts extracts the scripts of an html entry point in document
// order: src scripts are read relative to the page, inline bodies are
// returned as-is.
func pageScripts(pagePath string) ([]string, error) {
	html, err := os.ReadFile(pagePath)
	if err != nil {
		return nil, fmt.Errorf("plugins: read page %s: %w", pagePath, err)
	}

	var scripts []string
	for _, tag := range scriptTagPattern.FindAllStringSubmatch(string(html), -1) {
		attrs, body := tag[1], tag[2]
		if src := scriptSrcPattern.FindStringSubmatch(attrs); src != nil {
			ref := src[1]
			if parsed, err := url.Parse(ref); err == nil && parsed.Scheme != "" {
				// Remote scripts are not fetched; hidden plugin windows
				// only ever load their bundled files.
				continue
			}
			data, err := os.ReadFile(filepath.Join(filepath.Dir(pagePath), filepath.FromSlash(ref)))
			if err != nil {
				log.Printf("[Webview] %s references missing script %s: %v", pagePath, ref, err)
				continue
			}
			scripts = append(scripts, string(data))
			continue
		}
		if strings.TrimSpace(body) != "" {
			scripts = append(scripts, body)
		}
	}
	return scripts, nil
}

// launchWebview loads an html plugin's scripts into a fresh VM and invokes
// the registration bridge once the page defines it, mirroring the polling a
// real hidden window would do while its script context spins up.
func launchWebview(pluginID, pagePath string, port int, info Info) (*webviewInstance, error) {
	scripts, err := pageScripts(pagePath)
	if err != nil {
		return nil, err
	}

	w := &webviewInstance{
		pluginID: pluginID,
		vm:       goja.New(),
		jobs:     make(chan func(), 64),
		quit:     make(chan struct{}),
	}
	if err := w.installGlobals(port); err != nil {
		return nil, err
	}

	go w.loop()

	errs := make(chan error, 1)
	w.jobs <- func() {
		for _, script := range scripts {
			if _, err := w.vm.RunString(script); err != nil {
				errs <- fmt.Errorf("plugins: page script of %s: %w", pluginID, err)
				return
			}
		}
		errs <- nil
	}
	if err := <-errs; err != nil {
		w.Stop()
		return nil, err
	}

	w.register(port, info)
	return w, nil
}

// loop runs VM jobs until Stop. All goja access happens here.
func (w *webviewInstance) loop() {
	for {
		select {
		case job := <-w.jobs:
			job()
		case <-w.quit:
			return
		}
	}
}

// do schedules fn onto the VM goroutine, dropping it if the instance
// stopped.
func (w *webviewInstance) do(fn func()) {
	select {
	case w.jobs <- fn:
	case <-w.quit:
	}
}

func (w *webviewInstance) Stop() error {
	w.stopOnce.Do(func() {
		close(w.quit)
		w.mu.Lock()
		for _, conn := range w.sockets {
			conn.Close()
		}
		w.sockets = nil
		w.mu.Unlock()
	})
	return nil
}

// register polls for the bridge function the page is expected to define and
// calls it with the standard arguments.
func (w *webviewInstance) register(port int, info Info) {
	deadline := time.Now().Add(5 * time.Second)
	var attempt func()
	attempt = func() {
		bridge := w.vm.Get("connectElgatoStreamDeckSocket")
		fn, ok := goja.AssertFunction(bridge)
		if !ok {
			if time.Now().After(deadline) {
				log.Printf("[Webview] plugin %s never defined its registration bridge", w.pluginID)
				return
			}
			time.AfterFunc(10*time.Millisecond, func() { w.do(attempt) })
			return
		}
		infoValue, err := toVMValue(w.vm, info)
		if err != nil {
			log.Printf("[Webview] plugin %s: encode info blob: %v", w.pluginID, err)
			return
		}
		if _, err := fn(goja.Undefined(),
			w.vm.ToValue(port),
			w.vm.ToValue(w.pluginID),
			w.vm.ToValue("registerPlugin"),
			infoValue,
		); err != nil {
			log.Printf("[Webview] plugin %s registration bridge failed: %v", w.pluginID, err)
		}
	}
	w.do(attempt)
}
