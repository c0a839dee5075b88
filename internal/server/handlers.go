package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sort"

	"github.com/griddeck/griddeck/internal/broker"
	"github.com/griddeck/griddeck/internal/devices"
	"github.com/griddeck/griddeck/internal/plugins"
	"github.com/griddeck/griddeck/internal/shared"
	"github.com/griddeck/griddeck/internal/store"
	"github.com/griddeck/griddeck/internal/store/profiles"
)

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// statusFor maps store and catalogue sentinel errors onto HTTP codes.
func statusFor(err error) int {
	if errors.Is(err, profiles.ErrNotFound) || errors.Is(err, plugins.ErrNotFound) || errors.Is(err, devices.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *APIServer) handleDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.registry.List())

	case http.MethodPost:
		var req struct {
			Rows    uint8 `json:"rows"`
			Columns uint8 `json:"columns"`
			Sliders uint8 `json:"sliders"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Rows == 0 {
			req.Rows = 3
		}
		if req.Columns == 0 {
			req.Columns = 3
		}

		s.ordinalMu.Lock()
		s.ordinal++
		ordinal := s.ordinal
		s.ordinalMu.Unlock()

		device := devices.NewVirtualDevice(ordinal, req.Rows, req.Columns, req.Sliders)
		if err := s.registry.Register(device.Info(), device); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, device.Info())

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		device := r.URL.Query().Get("device")
		if device == "" {
			writeError(w, http.StatusBadRequest, "missing device parameter")
			return
		}
		locks := s.stores.AcquireMut()
		names, err := locks.ProfileStores().ListProfiles(device)
		if err != nil {
			locks.Release()
			writeError(w, statusFor(err), err.Error())
			return
		}
		selected, err := locks.DeviceStores().GetSelectedProfile(device)
		locks.Release()
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		sort.Strings(names)
		writeJSON(w, http.StatusOK, struct {
			Profiles []string `json:"profiles"`
			Selected string   `json:"selected"`
		}{Profiles: names, Selected: selected})

	case http.MethodPost:
		var req struct {
			Device  string `json:"device"`
			Profile string `json:"profile"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Device == "" || req.Profile == "" {
			writeError(w, http.StatusBadRequest, "missing device or profile")
			return
		}
		if err := s.router.SelectProfile(req.Device, req.Profile); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, nil)

	case http.MethodDelete:
		device := r.URL.Query().Get("device")
		profile := r.URL.Query().Get("profile")
		if device == "" || profile == "" {
			writeError(w, http.StatusBadRequest, "missing device or profile parameter")
			return
		}
		locks := s.stores.Acquire()
		selected, err := locks.DeviceStores().GetSelectedProfile(device)
		locks.Release()
		if err == nil && selected == profile {
			writeError(w, http.StatusConflict, "cannot delete the selected profile")
			return
		}
		s.router.DeleteProfile(device, profile)
		writeJSON(w, http.StatusOK, nil)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) handleInstances(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Action  string         `json:"action"`
			Context shared.Context `json:"context"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		action, ok := s.plugins.Action(req.Action)
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %s", req.Action))
			return
		}
		instance, err := s.router.CreateInstance(action, req.Context)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, instance)

	case http.MethodDelete:
		raw := r.URL.Query().Get("context")
		target, err := shared.ParseActionContext(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.router.RemoveInstance(target); err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, nil)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *APIServer) handleInstanceMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Source      shared.Context `json:"source"`
		Destination shared.Context `json:"destination"`
		Retain      bool           `json:"retain"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	instance, err := s.router.MoveInstance(req.Source, req.Destination, req.Retain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, instance)
}

func (s *APIServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.Get())

	case http.MethodPost:
		var req store.Settings
		if !decodeBody(w, r, &req) {
			return
		}
		if err := s.settings.Update(func(value *store.Settings) { *value = req }); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.router.SetBrightness(req.Brightness)
		writeJSON(w, http.StatusOK, req)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// PluginStatus summarises one installed plugin for the frontend listing.
type PluginStatus struct {
	ID        string `json:"id"`
	Version   string `json:"version"`
	Connected bool   `json:"connected"`
}

func (s *APIServer) handlePlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	categories := s.plugins.Categories()

	seen := make(map[string]bool)
	var statuses []PluginStatus
	for _, actions := range categories {
		for _, action := range actions {
			if seen[action.Plugin] {
				continue
			}
			seen[action.Plugin] = true
			version, _ := s.plugins.InstalledVersion(action.Plugin)
			statuses = append(statuses, PluginStatus{
				ID:        action.Plugin,
				Version:   version,
				Connected: s.broker.Registered(action.Plugin),
			})
		}
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })

	writeJSON(w, http.StatusOK, struct {
		Categories map[string][]shared.Action `json:"categories"`
		Plugins    []PluginStatus             `json:"plugins"`
	}{Categories: categories, Plugins: statuses})
}

func (s *APIServer) handlePluginInstall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "missing id or path")
		return
	}
	archive, err := os.ReadFile(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read archive: %v", err))
		return
	}
	if err := s.plugins.Install(r.Context(), req.ID, archive, ExtractZip); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, nil)
}

func (s *APIServer) handlePluginRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	// Configured instances disappear first so their plugins and inspectors
	// get the farewell events before the process dies.
	if err := s.router.RemoveAllFromPlugin(req.ID); err != nil {
		log.Printf("[APIServer] sweep instances of %s: %v", req.ID, err)
	}
	if err := s.plugins.Remove(r.Context(), req.ID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.broker.Drop(broker.Identity{Kind: broker.KindPlugin, ID: req.ID})
	writeJSON(w, http.StatusOK, nil)
}

func (s *APIServer) handlePluginReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}
	if err := s.plugins.Reload(r.Context(), req.ID); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *APIServer) handlePluginInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	pluginID := r.URL.Query().Get("plugin")
	if pluginID == "" {
		writeError(w, http.StatusBadRequest, "missing plugin parameter")
		return
	}
	version, ok := s.plugins.InstalledVersion(pluginID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown plugin %s", pluginID))
		return
	}
	writeJSON(w, http.StatusOK, plugins.MakeInfo(pluginID, version, s.settings.Get().Language, false, s.registry.List()))
}

func (s *APIServer) handleInspector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Old string `json:"old"`
		New string `json:"new"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	var old, next *shared.ActionContext
	if req.Old != "" {
		parsed, err := shared.ParseActionContext(req.Old)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		old = &parsed
	}
	if req.New != "" {
		parsed, err := shared.ParseActionContext(req.New)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next = &parsed
	}
	s.router.SwitchPropertyInspector(old, next)
	writeJSON(w, http.StatusOK, nil)
}

// simulatedDevice checks that injected input targets a hub-owned device.
// Plugin-backed hardware feeds input through its own plugin, not this API.
func (s *APIServer) simulatedDevice(w http.ResponseWriter, id string) bool {
	info, ok := s.registry.GetDevice(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown device %s", id))
		return false
	}
	if info.Plugin != "" {
		writeError(w, http.StatusForbidden, "cannot inject input into a plugin-backed device")
		return false
	}
	return true
}

func (s *APIServer) handleInputKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Device  string `json:"device"`
		Key     uint8  `json:"key"`
		Pressed bool   `json:"pressed"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.simulatedDevice(w, req.Device) {
		return
	}
	if req.Pressed {
		s.router.KeyDown(req.Device, req.Key)
	} else {
		s.router.KeyUp(req.Device, req.Key)
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *APIServer) handleInputDial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Device string `json:"device"`
		Dial   uint8  `json:"dial"`
		Action string `json:"action"`
		Ticks  int16  `json:"ticks"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if !s.simulatedDevice(w, req.Device) {
		return
	}
	switch req.Action {
	case "rotate":
		s.router.DialRotate(req.Device, req.Dial, req.Ticks)
	case "down":
		s.router.DialDown(req.Device, req.Dial)
	case "up":
		s.router.DialUp(req.Device, req.Dial)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown dial action %q", req.Action))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
