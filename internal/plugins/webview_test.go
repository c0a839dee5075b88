package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writePage(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return filepath.Join(dir, "index.html")
}

func TestPageScripts(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, map[string]string{
		"index.html": `<!doctype html>
<html><head>
<script src="first.js"></script>
<script>var inline = 2;</script>
<script src="https://cdn.example.com/remote.js"></script>
<script src="missing.js"></script>
</head><body></body></html>`,
		"first.js": "var first = 1;",
	})

	scripts, err := pageScripts(page)
	if err != nil {
		t.Fatalf("pageScripts: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("got %d scripts, want 2: %q", len(scripts), scripts)
	}
	if scripts[0] != "var first = 1;" {
		t.Errorf("src script not read relative to page: %q", scripts[0])
	}
	if !strings.Contains(scripts[1], "var inline = 2;") {
		t.Errorf("inline script lost: %q", scripts[1])
	}
}

// vmEval runs an expression on the instance's VM goroutine and returns the
// result exported to Go.
func vmEval(t *testing.T, w *webviewInstance, expr string) any {
	t.Helper()
	results := make(chan any, 1)
	w.do(func() {
		value, err := w.vm.RunString(expr)
		if err != nil {
			results <- err
			return
		}
		results <- value.Export()
	})
	select {
	case result := <-results:
		if err, ok := result.(error); ok {
			t.Fatalf("eval %q: %v", expr, err)
		}
		return result
	case <-time.After(2 * time.Second):
		t.Fatalf("eval %q timed out", expr)
		return nil
	}
}

func TestLaunchWebviewRegisters(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, map[string]string{
		"index.html": `<html><head><script src="plugin.js"></script></head></html>`,
		"plugin.js": `window.connectElgatoStreamDeckSocket = function(port, uuid, event, info) {
			window.captured = {port: port, uuid: uuid, event: event, language: info.application.language};
		};`,
	})

	info := MakeInfo("com.example.page", "1.0.0", "de", false, nil)
	w, err := launchWebview("com.example.page", page, 57113, info)
	if err != nil {
		t.Fatalf("launchWebview: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	var captured map[string]any
	for {
		result := vmEval(t, w, "window.captured")
		if m, ok := result.(map[string]any); ok {
			captured = m
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("registration bridge never invoked, got %v", result)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := captured["port"]; got != int64(57113) {
		t.Errorf("port = %v", got)
	}
	if got := captured["uuid"]; got != "com.example.page" {
		t.Errorf("uuid = %v", got)
	}
	if got := captured["event"]; got != "registerPlugin" {
		t.Errorf("event = %v", got)
	}
	if got := captured["language"]; got != "de" {
		t.Errorf("info blob language = %v", got)
	}
}

func TestLaunchWebviewScriptErrorFails(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, map[string]string{
		"index.html": `<html><head><script>this does not parse</script></head></html>`,
	})

	info := MakeInfo("com.example.broken", "1.0.0", "en", false, nil)
	if _, err := launchWebview("com.example.broken", page, 57113, info); err == nil {
		t.Fatal("expected a parse failure")
	}
}

func TestWebviewTimers(t *testing.T) {
	dir := t.TempDir()
	page := writePage(t, dir, map[string]string{
		"index.html": `<html><script>
			window.ticks = 0;
			setTimeout(function() { window.ticks += 1; }, 5);
		</script></html>`,
	})

	info := MakeInfo("com.example.timer", "1.0.0", "en", false, nil)
	w, err := launchWebview("com.example.timer", page, 57113, info)
	if err != nil {
		t.Fatalf("launchWebview: %v", err)
	}
	defer w.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if ticks, ok := vmEval(t, w, "window.ticks").(int64); ok && ticks == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout callback never ran")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
