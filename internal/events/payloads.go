package events

import (
	"encoding/json"

	"github.com/griddeck/griddeck/internal/shared"
)

// Coordinates is the row/column form of a key position in protocol frames.
type Coordinates struct {
	Row    uint8 `json:"row"`
	Column uint8 `json:"column"`
}

func coordinatesOf(context shared.ActionContext, columns uint8) Coordinates {
	if context.Controller == shared.ControllerEncoder {
		return Coordinates{Row: 0, Column: context.Position}
	}
	return Coordinates{Row: context.Position / columns, Column: context.Position % columns}
}

// GenericInstancePayload carries the shared per-instance fields most
// outbound events embed.
type GenericInstancePayload struct {
	Settings        json.RawMessage `json:"settings"`
	Coordinates     Coordinates     `json:"coordinates"`
	Controller      string          `json:"controller"`
	State           uint16          `json:"state"`
	IsInMultiAction bool            `json:"isInMultiAction"`
}

func (r *Router) instancePayload(instance *shared.ActionInstance, multiAction bool) GenericInstancePayload {
	return GenericInstancePayload{
		Settings:        instance.Settings,
		Coordinates:     coordinatesOf(instance.Context, r.columns(instance.Context.Device)),
		Controller:      instance.Context.Controller,
		State:           instance.CurrentState,
		IsInMultiAction: multiAction,
	}
}

type keyEvent struct {
	Event   string                 `json:"event"`
	Action  string                 `json:"action"`
	Context shared.ActionContext   `json:"context"`
	Device  string                 `json:"device"`
	Payload GenericInstancePayload `json:"payload"`
}

type dialRotatePayload struct {
	Settings    json.RawMessage `json:"settings"`
	Coordinates Coordinates     `json:"coordinates"`
	Ticks       int16           `json:"ticks"`
	Pressed     bool            `json:"pressed"`
}

type dialRotateEvent struct {
	Event   string               `json:"event"`
	Action  string               `json:"action"`
	Context shared.ActionContext `json:"context"`
	Device  string               `json:"device"`
	Payload dialRotatePayload    `json:"payload"`
}

type appearEvent struct {
	Event   string                 `json:"event"`
	Action  string                 `json:"action"`
	Context shared.ActionContext   `json:"context"`
	Device  string                 `json:"device"`
	Payload GenericInstancePayload `json:"payload"`
}

type didReceiveSettingsPayload struct {
	Settings    json.RawMessage `json:"settings"`
	Coordinates Coordinates     `json:"coordinates"`
}

type didReceiveSettingsEvent struct {
	Event   string                    `json:"event"`
	Action  string                    `json:"action"`
	Context shared.ActionContext      `json:"context"`
	Device  string                    `json:"device"`
	Payload didReceiveSettingsPayload `json:"payload"`
}

type didReceiveGlobalSettingsEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Settings json.RawMessage `json:"settings"`
	} `json:"payload"`
}

type titleParameters struct {
	FontFamily     string `json:"fontFamily"`
	FontSize       string `json:"fontSize"`
	FontStyle      string `json:"fontStyle"`
	FontUnderline  bool   `json:"fontUnderline"`
	ShowTitle      bool   `json:"showTitle"`
	TitleAlignment string `json:"titleAlignment"`
	TitleColor     string `json:"titleColor"`
}

type titleParametersDidChangePayload struct {
	Settings        json.RawMessage `json:"settings"`
	Coordinates     Coordinates     `json:"coordinates"`
	State           uint16          `json:"state"`
	Title           string          `json:"title"`
	TitleParameters titleParameters `json:"titleParameters"`
}

type titleParametersDidChangeEvent struct {
	Event   string                          `json:"event"`
	Action  string                          `json:"action"`
	Context shared.ActionContext            `json:"context"`
	Device  string                          `json:"device"`
	Payload titleParametersDidChangePayload `json:"payload"`
}

type deviceDidConnectEvent struct {
	Event      string                 `json:"event"`
	Device     string                 `json:"device"`
	DeviceInfo deviceRegistrationInfo `json:"deviceInfo"`
}

type deviceRegistrationInfo struct {
	Name string `json:"name"`
	Size struct {
		Rows    uint8 `json:"rows"`
		Columns uint8 `json:"columns"`
	} `json:"size"`
	Type uint8 `json:"type"`
}

func registrationInfoOf(info shared.DeviceInfo) deviceRegistrationInfo {
	out := deviceRegistrationInfo{Name: info.Name, Type: info.Type}
	out.Size.Rows = info.Rows
	out.Size.Columns = info.Columns
	return out
}

type deviceDidDisconnectEvent struct {
	Event  string `json:"event"`
	Device string `json:"device"`
}

type sendToEvent struct {
	Event   string               `json:"event"`
	Action  string               `json:"action"`
	Context shared.ActionContext `json:"context"`
	Payload json.RawMessage      `json:"payload"`
}

type inspectorVisibilityEvent struct {
	Event   string               `json:"event"`
	Action  string               `json:"action"`
	Context shared.ActionContext `json:"context"`
	Device  string               `json:"device"`
}
