package events

import (
	"context"
	"encoding/json"

	"github.com/griddeck/griddeck/internal/eventbus"
	"github.com/griddeck/griddeck/internal/shared"
)

// setTitle overrides an instance's title on one state or all of them. A nil
// title restores the action's default text.
func (r *Router) setTitle(contextString string, payload setTitlePayload) error {
	return r.mutateStates(contextString, func(instance *shared.ActionInstance) {
		apply := func(index int) {
			if payload.Title != nil {
				instance.States[index].Text = *payload.Title
			} else if index < len(instance.Action.States) {
				instance.States[index].Text = instance.Action.States[index].Text
			}
		}
		if payload.State != nil {
			if int(*payload.State) < len(instance.States) {
				apply(int(*payload.State))
			}
			return
		}
		for index := range instance.States {
			apply(index)
		}
	})
}

// setImage overrides an instance's image the same way.
func (r *Router) setImage(contextString string, payload setImagePayload) error {
	return r.mutateStates(contextString, func(instance *shared.ActionInstance) {
		apply := func(index int) {
			if payload.Image != nil && *payload.Image != "" {
				instance.States[index].Image = *payload.Image
			} else if index < len(instance.Action.States) {
				instance.States[index].Image = instance.Action.States[index].Image
			}
		}
		if payload.State != nil {
			if int(*payload.State) < len(instance.States) {
				apply(int(*payload.State))
			}
			return
		}
		for index := range instance.States {
			apply(index)
		}
	})
}

func (r *Router) setState(contextString string, state uint16) error {
	return r.mutateStates(contextString, func(instance *shared.ActionInstance) {
		if int(state) < len(instance.States) {
			instance.CurrentState = state
		}
	})
}

// mutateStates applies fn to the instance at a context under the write
// guard, persists the profile and pushes the refreshed slot to frontends
// and the device surface.
func (r *Router) mutateStates(contextString string, fn func(*shared.ActionInstance)) error {
	parsed, err := shared.ParseActionContext(contextString)
	if err != nil {
		return err
	}
	locks := r.stores.AcquireMut()
	defer locks.Release()

	instance, err := locks.Instance(parsed)
	if err != nil || instance == nil {
		return err
	}
	fn(instance)
	if err := locks.SaveProfileNamed(parsed.Device, parsed.Profile); err != nil {
		return err
	}
	r.notifySlot(parsed.ToContext())
	r.renderInstance(instance)
	return nil
}

func (r *Router) instanceFeedback(contextString, kind string) error {
	parsed, err := shared.ParseActionContext(contextString)
	if err != nil {
		return err
	}
	eventbus.Publish(context.Background(), r.bus, eventbus.UIFeedback, eventbus.SourceRouter, eventbus.InstanceFeedbackEvent{
		Context: parsed,
		Kind:    kind,
	})
	return nil
}

// relayToPropertyInspector forwards an opaque plugin message to the
// inspector editing the same instance.
func (r *Router) relayToPropertyInspector(contextString string, payload json.RawMessage) error {
	parsed, err := shared.ParseActionContext(contextString)
	if err != nil {
		return err
	}
	locks := r.stores.Acquire()
	instance, err := locks.Instance(parsed)
	locks.Release()
	if err != nil || instance == nil {
		return err
	}
	return r.sender.SendToPropertyInspector(contextString, sendToEvent{
		Event:   "sendToPropertyInspector",
		Action:  instance.Action.UUID,
		Context: instance.Context,
		Payload: payload,
	})
}

// relayToPlugin forwards an opaque inspector message to the owning plugin.
func (r *Router) relayToPlugin(contextString string, payload json.RawMessage) error {
	parsed, err := shared.ParseActionContext(contextString)
	if err != nil {
		return err
	}
	locks := r.stores.Acquire()
	instance, err := locks.Instance(parsed)
	locks.Release()
	if err != nil || instance == nil {
		return err
	}
	return r.sender.SendToPlugin(instance.Action.Plugin, sendToEvent{
		Event:   "sendToPlugin",
		Action:  instance.Action.UUID,
		Context: instance.Context,
		Payload: payload,
	})
}

// TitleParametersDidChange tells the owning plugin that a state's rendering
// parameters were edited in the frontend.
func (r *Router) TitleParametersDidChange(instance *shared.ActionInstance, state uint16) error {
	if int(state) >= len(instance.States) {
		return nil
	}
	stateDef := instance.States[state]
	return r.sender.SendToPlugin(instance.Action.Plugin, titleParametersDidChangeEvent{
		Event:   "titleParametersDidChange",
		Action:  instance.Action.UUID,
		Context: instance.Context,
		Device:  instance.Context.Device,
		Payload: titleParametersDidChangePayload{
			Settings:    instance.Settings,
			Coordinates: coordinatesOf(instance.Context, r.columns(instance.Context.Device)),
			State:       instance.CurrentState,
			Title:       stateDef.Text,
			TitleParameters: titleParameters{
				FontFamily:     "",
				FontSize:       stateDef.Size,
				FontStyle:      stateDef.Style,
				FontUnderline:  stateDef.Underline,
				ShowTitle:      stateDef.Show,
				TitleAlignment: stateDef.Alignment,
				TitleColor:     stateDef.Colour,
			},
		},
	})
}
