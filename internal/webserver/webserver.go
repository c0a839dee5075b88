// Package webserver serves plugin asset files to browser-hosted plugin code
// and property inspectors. Request paths are absolute filesystem paths;
// access is confined to the config root unless the developer setting is on.
package webserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// inspectorSuffix marks requests for property inspector pages, which get
// the bridge script appended. Inspector frames are served from this origin
// rather than the frontend's, so the registration call has to be relayed in
// via postMessage; window.open is replaced because inspectors expect it for
// overlay windows.
const inspectorSuffix = "|griddeck_property_inspector"

const inspectorBridge = `
<div id="griddeck_iframe_container" style="position: absolute; z-index: 100; top: 0; left: 0; width: 100%; height: 100%; display: none;"></div>
<script>
	const griddeck_window_open = window.open;
	const griddeck_iframe_container = document.getElementById("griddeck_iframe_container");

	window.addEventListener("message", ({ data }) => {
		if (data.event == "connect") {
			connectElgatoStreamDeckSocket(...data.payload);
		} else if (data.event == "windowClosed") {
			griddeck_iframe_container.innerHtml = "";
			griddeck_iframe_container.style.display = "none";
		}
	});

	window.open = (url, target) => {
		if (target && !(target == "_self" || target == "_top")) {
			top.postMessage({ event: "openUrl", payload: url.startsWith("http") ? url : new URL(url, window.location.href).href }, "*");
			return;
		}
		let iframe = document.createElement("iframe");
		iframe.src = url;
		iframe.style.flexGrow = "1";
		iframe.onload = () => {
			iframe.contentWindow.opener = window;
			iframe.contentWindow.onbeforeunload = () => top.postMessage({ event: "windowClosed", payload: window.name }, "*");
			iframe.contentWindow.document.body.style.overflowY = "auto";
		};
		griddeck_iframe_container.appendChild(iframe);
		griddeck_iframe_container.style.display = "flex";
		top.postMessage({ event: "windowOpened", payload: window.name }, "*");
		return iframe.contentWindow;
	};
</script>
`

var mimeTypes = map[string]string{
	".htm":   "text/html",
	".html":  "text/html",
	".xhtml": "text/html",
	".js":    "text/javascript",
	".cjs":   "text/javascript",
	".mjs":   "text/javascript",
	".css":   "text/css",
	".png":   "image/png",
	".jpg":   "image/jpg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".svg":   "image/svg+xml",
}

func mimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "text/html"
	}
	if m, ok := mimeTypes[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// Server is the loopback asset file server.
type Server struct {
	root      string
	developer func() bool

	http     *http.Server
	listener net.Listener
}

// New creates an asset server confined to root. developer reports the
// current developer-mode setting; nil means always off.
func New(root string, developer func() bool) *Server {
	if developer == nil {
		developer = func() bool { return false }
	}
	return &Server{root: filepath.Clean(root), developer: developer}
}

// Handler exposes the request handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serve)
}

// Start binds the loopback listener. Port 0 picks an ephemeral port.
func (s *Server) Start(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("webserver: listen: %w", err)
	}
	s.listener = listener
	s.http = &http.Server{Handler: s.Handler()}
	go func() {
		if err := s.http.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[Webserver] serve: %v", err)
		}
	}()
	log.Printf("[Webserver] listening on %s", listener.Addr())
	return nil
}

// Port reports the bound TCP port.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// contained reports whether path stays within the config root.
func (s *Server) contained(path string) bool {
	relative, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator))
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// The request path is the absolute path of the wanted file. net/http
	// has already decoded it and split off the query.
	path := r.URL.Path
	inspector := strings.HasSuffix(path, inspectorSuffix)
	path = strings.TrimSuffix(path, inspectorSuffix)
	path = filepath.Clean(filepath.FromSlash(path))

	if !s.developer() && !s.contained(path) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if inspector {
		content, err := os.ReadFile(path)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write(content)
		w.Write([]byte(inspectorBridge))
		return
	}

	content, err := os.ReadFile(path)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", mimeType(path))
	w.Write(content)
}
