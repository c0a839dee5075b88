package plugins

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/gorilla/websocket"
)

// The page environment: just enough browser surface for plugin bundles to
// register and talk to the broker. window aliases the global object, timers
// schedule back onto the VM goroutine and WebSocket dials the local broker.

func toVMValue(vm *goja.Runtime, v any) (goja.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, err
	}
	return vm.ToValue(plain), nil
}

func (w *webviewInstance) installGlobals(port int) error {
	vm := w.vm

	global := vm.GlobalObject()
	if err := global.Set("window", global); err != nil {
		return err
	}
	if err := global.Set("globalThis", global); err != nil {
		return err
	}
	if err := global.Set("self", global); err != nil {
		return err
	}

	console := vm.NewObject()
	logFn := func(call goja.FunctionCall) goja.Value {
		parts := make([]any, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		log.Printf("[Webview] %s: %s", w.pluginID, fmt.Sprintln(parts...))
		return goja.Undefined()
	}
	console.Set("log", logFn)
	console.Set("warn", logFn)
	console.Set("error", logFn)
	if err := global.Set("console", console); err != nil {
		return err
	}

	w.installTimers()
	w.installWebSocket(port)
	return nil
}

func (w *webviewInstance) installTimers() {
	vm := w.vm

	var mu sync.Mutex
	nextID := 1
	cancels := make(map[int]func())

	schedule := func(fn goja.Callable, delayMS int64, repeat bool) int {
		mu.Lock()
		id := nextID
		nextID++
		mu.Unlock()

		delay := time.Duration(delayMS) * time.Millisecond
		if delay < 0 {
			delay = 0
		}
		run := func() {
			w.do(func() {
				if _, err := fn(goja.Undefined()); err != nil {
					log.Printf("[Webview] %s: timer callback: %v", w.pluginID, err)
				}
			})
		}

		if repeat {
			if delay == 0 {
				delay = time.Millisecond
			}
			ticker := time.NewTicker(delay)
			done := make(chan struct{})
			go func() {
				for {
					select {
					case <-ticker.C:
						run()
					case <-done:
						ticker.Stop()
						return
					case <-w.quit:
						ticker.Stop()
						return
					}
				}
			}()
			mu.Lock()
			cancels[id] = func() { close(done) }
			mu.Unlock()
		} else {
			timer := time.AfterFunc(delay, run)
			mu.Lock()
			cancels[id] = func() { timer.Stop() }
			mu.Unlock()
		}
		return id
	}

	clear := func(id int) {
		mu.Lock()
		cancel, ok := cancels[id]
		delete(cancels, id)
		mu.Unlock()
		if ok {
			cancel()
		}
	}

	vm.Set("setTimeout", func(fn goja.Callable, delay int64) int {
		return schedule(fn, delay, false)
	})
	vm.Set("setInterval", func(fn goja.Callable, delay int64) int {
		return schedule(fn, delay, true)
	})
	vm.Set("clearTimeout", clear)
	vm.Set("clearInterval", clear)
}

// installWebSocket provides a constructor backed by a real client
// connection to the local broker.
func (w *webviewInstance) installWebSocket(port int) {
	vm := w.vm

	vm.Set("WebSocket", func(call goja.ConstructorCall) *goja.Object {
		obj := call.This
		target := call.Argument(0).String()

		obj.Set("readyState", 0) // CONNECTING
		obj.Set("url", target)

		var (
			connMu sync.Mutex
			conn   *websocket.Conn
		)

		// Handlers run on the VM goroutine; payloads are built there too
		// since goja values must not be created off-thread.
		dispatch := func(event string, build func() goja.Value) {
			w.do(func() {
				handler := obj.Get("on" + event)
				if fn, ok := goja.AssertFunction(handler); ok {
					arg := goja.Value(goja.Undefined())
					if build != nil {
						arg = build()
					}
					if _, err := fn(obj, arg); err != nil {
						log.Printf("[Webview] %s: websocket on%s: %v", w.pluginID, event, err)
					}
				}
			})
		}

		obj.Set("send", func(data string) {
			connMu.Lock()
			c := conn
			connMu.Unlock()
			if c == nil {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
				log.Printf("[Webview] %s: websocket send: %v", w.pluginID, err)
			}
		})
		obj.Set("close", func() {
			connMu.Lock()
			c := conn
			conn = nil
			connMu.Unlock()
			if c != nil {
				c.Close()
			}
		})

		go func() {
			dialed, _, err := websocket.DefaultDialer.Dial(target, nil)
			if err != nil {
				w.do(func() { obj.Set("readyState", 3) }) // CLOSED
				message := err.Error()
				dispatch("error", func() goja.Value {
					errObj := vm.NewObject()
					errObj.Set("message", message)
					return errObj
				})
				dispatch("close", nil)
				return
			}

			connMu.Lock()
			conn = dialed
			connMu.Unlock()
			w.mu.Lock()
			w.sockets = append(w.sockets, dialed)
			w.mu.Unlock()

			w.do(func() { obj.Set("readyState", 1) }) // OPEN
			dispatch("open", nil)

			for {
				_, data, err := dialed.ReadMessage()
				if err != nil {
					w.do(func() { obj.Set("readyState", 3) })
					dispatch("close", nil)
					return
				}
				text := string(data)
				dispatch("message", func() goja.Value {
					messageEvent := vm.NewObject()
					messageEvent.Set("data", text)
					return messageEvent
				})
			}
		}()

		return nil
	})

	// Plugins construct their broker URL themselves; the port global mirrors
	// what the registration bridge receives.
	vm.Set("__griddeckBrokerPort", port)
}
