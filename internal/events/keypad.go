package events

import (
	"log"
	"time"

	"github.com/griddeck/griddeck/internal/shared"
	"github.com/griddeck/griddeck/internal/store/profiles"
)

// multiActionStepDelay paces sequential container playback so plugins see
// distinct presses.
const multiActionStepDelay = 100 * time.Millisecond

func (r *Router) sendKeyEvent(event string, instance *shared.ActionInstance, multiAction bool) {
	err := r.sender.SendToPlugin(instance.Action.Plugin, keyEvent{
		Event:   event,
		Action:  instance.Action.UUID,
		Context: instance.Context,
		Device:  instance.Context.Device,
		Payload: r.instancePayload(instance, multiAction),
	})
	if err != nil {
		log.Printf("[Events] %s to %s: %v", event, instance.Action.Plugin, err)
	}
}

// autoAdvance cycles a two-state instance unless its action opted out.
func autoAdvance(instance *shared.ActionInstance) bool {
	if len(instance.States) != 2 || instance.Action.DisableAutomaticStates {
		return false
	}
	instance.CurrentState = (instance.CurrentState + 1) % uint16(len(instance.States))
	return true
}

// playMultiAction drives a container's children as a timed sequence of
// presses.
func (r *Router) playMultiAction(container *shared.ActionInstance) {
	for _, child := range container.Children {
		if child == nil {
			continue
		}
		r.sendKeyEvent("keyDown", child, true)
		time.Sleep(multiActionStepDelay)
		autoAdvance(child)
		r.sendKeyEvent("keyUp", child, true)
		time.Sleep(multiActionStepDelay)
	}
}

// playToggleAction presses the child the toggle currently points at, then
// arms the next one. Key events go to the children, never to the container
// itself, which is not backed by a plugin process.
func (r *Router) playToggleAction(container *shared.ActionInstance) {
	if len(container.Children) == 0 {
		return
	}
	if int(container.CurrentState) >= len(container.Children) {
		container.CurrentState = 0
	}
	if child := container.Children[container.CurrentState]; child != nil {
		r.sendKeyEvent("keyDown", child, true)
		time.Sleep(multiActionStepDelay)
		autoAdvance(child)
		r.sendKeyEvent("keyUp", child, true)
	}
	container.CurrentState = (container.CurrentState + 1) % uint16(len(container.Children))
}

// KeyDown handles a physical key press.
func (r *Router) KeyDown(device string, key uint8) {
	locks := r.stores.AcquireMut()
	defer locks.Release()
	r.keyDownLocked(locks, device, key)
}

func (r *Router) keyDownLocked(locks *profiles.Locks, device string, key uint8) {
	slotContext, err := locks.SelectedProfileContext(device, shared.ControllerKeypad, key)
	if err != nil {
		log.Printf("[Events] key down on %s: %v", device, err)
		return
	}
	r.notifyKeyMoved(slotContext, true)

	slot, err := locks.Slot(slotContext)
	if err != nil || *slot == nil {
		return
	}
	instance := *slot

	if instance.Action.IsContainer() {
		if instance.Action.UUID == shared.MultiActionUUID {
			r.playMultiAction(instance)
		} else {
			r.playToggleAction(instance)
		}
		if err := locks.SaveProfile(device); err != nil {
			log.Printf("[Events] save profile for %s: %v", device, err)
		}
		r.notifySlot(slotContext)
		return
	}
	r.sendKeyEvent("keyDown", instance, false)
}

// KeyUp handles a physical key release.
func (r *Router) KeyUp(device string, key uint8) {
	locks := r.stores.AcquireMut()
	defer locks.Release()
	r.keyUpLocked(locks, device, key)
}

func (r *Router) keyUpLocked(locks *profiles.Locks, device string, key uint8) {
	slotContext, err := locks.SelectedProfileContext(device, shared.ControllerKeypad, key)
	if err != nil {
		log.Printf("[Events] key up on %s: %v", device, err)
		return
	}
	r.notifyKeyMoved(slotContext, false)

	slot, err := locks.Slot(slotContext)
	if err != nil || *slot == nil {
		return
	}
	instance := *slot

	// Container playback already ran on the press.
	if instance.Action.IsContainer() {
		return
	}

	autoAdvance(instance)
	r.sendKeyEvent("keyUp", instance, false)
	if err := locks.SaveProfile(device); err != nil {
		log.Printf("[Events] save profile for %s: %v", device, err)
	}
	r.notifySlot(slotContext)
}

// DialRotate handles encoder rotation.
func (r *Router) DialRotate(device string, dial uint8, ticks int16) {
	locks := r.stores.Acquire()
	defer locks.Release()

	slotContext, err := locks.SelectedProfileContext(device, shared.ControllerEncoder, dial)
	if err != nil {
		log.Printf("[Events] dial rotate on %s: %v", device, err)
		return
	}
	slot, err := locks.Slot(slotContext)
	if err != nil || *slot == nil {
		return
	}
	instance := *slot

	err = r.sender.SendToPlugin(instance.Action.Plugin, dialRotateEvent{
		Event:   "dialRotate",
		Action:  instance.Action.UUID,
		Context: instance.Context,
		Device:  instance.Context.Device,
		Payload: dialRotatePayload{
			Settings:    instance.Settings,
			Coordinates: coordinatesOf(instance.Context, r.columns(device)),
			Ticks:       ticks,
			Pressed:     false,
		},
	})
	if err != nil {
		log.Printf("[Events] dialRotate to %s: %v", instance.Action.Plugin, err)
	}
}

func (r *Router) dialPress(event, device string, dial uint8) {
	locks := r.stores.Acquire()
	defer locks.Release()

	slotContext, err := locks.SelectedProfileContext(device, shared.ControllerEncoder, dial)
	if err != nil {
		log.Printf("[Events] %s on %s: %v", event, device, err)
		return
	}
	slot, err := locks.Slot(slotContext)
	if err != nil || *slot == nil {
		return
	}
	r.sendKeyEvent(event, *slot, false)
}

// DialDown handles an encoder press.
func (r *Router) DialDown(device string, dial uint8) {
	r.dialPress("dialDown", device, dial)
}

// DialUp handles an encoder release.
func (r *Router) DialUp(device string, dial uint8) {
	r.dialPress("dialUp", device, dial)
}
