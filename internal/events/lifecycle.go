package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/griddeck/griddeck/internal/eventbus"
	"github.com/griddeck/griddeck/internal/shared"
	"github.com/griddeck/griddeck/internal/store/profiles"
)

func isContainer(uuid string) bool {
	return uuid == shared.MultiActionUUID || uuid == shared.ToggleActionUUID
}

func (r *Router) willAppear(instance *shared.ActionInstance, multiAction bool) {
	r.sendAppearance("willAppear", instance, multiAction)
}

func (r *Router) willDisappear(instance *shared.ActionInstance, multiAction bool) {
	r.sendAppearance("willDisappear", instance, multiAction)
}

func (r *Router) sendAppearance(event string, instance *shared.ActionInstance, multiAction bool) {
	if isContainer(instance.Action.UUID) {
		return
	}
	err := r.sender.SendToPlugin(instance.Action.Plugin, appearEvent{
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

// announceProfile sends willAppear or willDisappear for every instance of a
// profile. Containers announce their children instead of themselves.
func (r *Router) announceProfile(profile *shared.Profile, event string) {
	for _, instance := range profile.Instances() {
		if isContainer(instance.Action.UUID) {
			for _, child := range instance.Children {
				r.sendAppearance(event, child, true)
			}
			continue
		}
		r.sendAppearance(event, instance, false)
	}
}

// CreateInstance places a new action instance at a slot. Dropping onto an
// occupied container slot appends a child instead.
func (r *Router) CreateInstance(action shared.Action, slot shared.Context) (*shared.ActionInstance, error) {
	supported := false
	for _, controller := range action.Controllers {
		if controller == slot.Controller {
			supported = true
			break
		}
	}
	if !supported {
		return nil, nil
	}

	locks := r.stores.AcquireMut()
	defer locks.Release()

	slotRef, err := locks.Slot(slot)
	if err != nil {
		return nil, err
	}

	if parent := *slotRef; parent != nil {
		if parent.Children == nil {
			return nil, nil
		}
		index := uint16(1)
		if n := len(parent.Children); n > 0 {
			index = parent.Children[n-1].Context.Index + 1
		}
		instance := shared.NewInstance(action, shared.FromContext(slot, index))
		parent.Children = append(parent.Children, instance)

		if parent.Action.UUID == shared.ToggleActionUUID && len(parent.States) < len(parent.Children) {
			state := shared.ActionState{Show: true}
			state.DefaultStateValues()
			parent.States = append(parent.States, state)
			r.notifySlot(slot)
		}

		if err := locks.SaveProfileNamed(slot.Device, slot.Profile); err != nil {
			return nil, err
		}
		r.willAppear(instance, true)
		return instance, nil
	}

	instance := shared.NewInstance(action, shared.FromContext(slot, 0))
	*slotRef = instance
	if err := locks.SaveProfileNamed(slot.Device, slot.Profile); err != nil {
		return nil, err
	}
	r.willAppear(instance, false)
	r.renderInstance(instance)
	r.notifySlot(slot)
	return instance, nil
}

// MoveInstance relocates or copies a top-level instance to an empty slot of
// the same controller kind.
func (r *Router) MoveInstance(source, destination shared.Context, retain bool) (*shared.ActionInstance, error) {
	if source.Controller != destination.Controller {
		return nil, nil
	}

	locks := r.stores.AcquireMut()
	defer locks.Release()

	sourceRef, err := locks.Slot(source)
	if err != nil || *sourceRef == nil {
		return nil, err
	}

	moved := cloneInstance(*sourceRef)
	moved.Context = shared.FromContext(destination, 0)
	for i, child := range moved.Children {
		child.Context = shared.FromContext(destination, uint16(i)+1)
	}

	destinationRef, err := locks.Slot(destination)
	if err != nil {
		return nil, err
	}
	if *destinationRef != nil {
		return nil, nil
	}
	*destinationRef = moved

	if !retain {
		r.willDisappear(*sourceRef, false)
		r.UpdateImage(source, "")
		*sourceRef = nil
		r.notifySlot(source)
	}

	r.willAppear(moved, false)
	r.renderInstance(moved)
	r.notifySlot(destination)

	if err := locks.SaveProfileNamed(destination.Device, destination.Profile); err != nil {
		return nil, err
	}
	if source.Device != destination.Device || source.Profile != destination.Profile {
		if err := locks.SaveProfileNamed(source.Device, source.Profile); err != nil {
			return nil, err
		}
	}
	return moved, nil
}

func cloneInstance(instance *shared.ActionInstance) *shared.ActionInstance {
	clone := *instance
	clone.States = append([]shared.ActionState(nil), instance.States...)
	clone.Settings = append(json.RawMessage(nil), instance.Settings...)
	if instance.Children != nil {
		clone.Children = make([]*shared.ActionInstance, len(instance.Children))
		for i, child := range instance.Children {
			clone.Children[i] = cloneInstance(child)
		}
	}
	return &clone
}

// RemoveInstance deletes the instance at an exact context: the whole slot
// for index 0, a single child otherwise.
func (r *Router) RemoveInstance(target shared.ActionContext) error {
	locks := r.stores.AcquireMut()
	defer locks.Release()

	if err := r.removeInstanceLocked(locks, target); err != nil {
		return err
	}
	return locks.SaveProfileNamed(target.Device, target.Profile)
}

func (r *Router) removeInstanceLocked(locks *profiles.Locks, target shared.ActionContext) error {
	slot := target.ToContext()
	slotRef, err := locks.Slot(slot)
	if err != nil || *slotRef == nil {
		return err
	}
	instance := *slotRef

	if instance.Context == target {
		r.willDisappear(instance, false)
		for _, child := range instance.Children {
			r.willDisappear(child, true)
		}
		*slotRef = nil
		r.UpdateImage(slot, "")
		r.notifySlot(slot)
		return nil
	}

	for i, child := range instance.Children {
		if child.Context == target {
			r.willDisappear(child, true)
			instance.Children = append(instance.Children[:i], instance.Children[i+1:]...)
			break
		}
	}
	if instance.Action.UUID == shared.ToggleActionUUID {
		if int(instance.CurrentState) >= len(instance.Children) {
			if len(instance.Children) == 0 {
				instance.CurrentState = 0
			} else {
				instance.CurrentState = uint16(len(instance.Children)) - 1
			}
		}
		if len(instance.Children) > 0 && len(instance.States) > len(instance.Children) {
			instance.States = instance.States[:len(instance.States)-1]
		}
	}
	r.notifySlot(slot)
	return nil
}

// RemoveAllFromPlugin deletes every instance a plugin owns across all
// profiles. Each touched profile is persisted once.
func (r *Router) RemoveAllFromPlugin(plugin string) error {
	locks := r.stores.AcquireMut()
	defer locks.Release()

	contexts := locks.ProfileStores().AllFromPlugin(plugin)
	type profileKey struct{ device, profile string }
	touched := map[profileKey]bool{}
	for _, target := range contexts {
		if err := r.removeInstanceLocked(locks, target); err != nil {
			log.Printf("[Events] remove %s: %v", target, err)
			continue
		}
		touched[profileKey{target.Device, target.Profile}] = true
	}
	for key := range touched {
		if err := locks.SaveProfileNamed(key.device, key.profile); err != nil {
			return err
		}
	}
	return nil
}

// SelectProfile switches a device to another profile, announcing the
// visibility change to every affected plugin.
func (r *Router) SelectProfile(device, id string) error {
	info, ok := r.registry.GetDevice(device)
	if !ok {
		return profiles.ErrNotFound
	}

	locks := r.stores.AcquireMut()
	defer locks.Release()

	current, err := locks.DeviceStores().GetSelectedProfile(device)
	if err != nil {
		return err
	}
	if current == id {
		return nil
	}

	if old, err := locks.ProfileStores().GetProfileStore(device, current); err == nil {
		r.announceProfile(&old.Value, "willDisappear")
	}

	next, err := locks.ProfileStores().GetProfileStoreMut(info, id)
	if err != nil {
		return err
	}
	r.announceProfile(&next.Value, "willAppear")

	if err := locks.DeviceStores().SetSelectedProfile(device, id); err != nil {
		return err
	}

	if driver, ok := r.registry.Driver(device); ok {
		if err := driver.Clear(); err != nil {
			log.Printf("[Events] clear %s: %v", device, err)
		}
	}
	for _, instance := range next.Value.Instances() {
		r.renderInstance(instance)
	}

	eventbus.Publish(context.Background(), r.bus, eventbus.UIProfiles, eventbus.SourceRouter, eventbus.ProfileSwitchedEvent{
		Device:  device,
		Profile: id,
	})
	return nil
}

// DeleteProfile removes a profile's file and store entry.
func (r *Router) DeleteProfile(device, id string) {
	locks := r.stores.AcquireMut()
	defer locks.Release()
	locks.ProfileStores().RemoveProfile(device, id)
}

// SwitchPropertyInspector reports which instance's inspector the frontend
// shows now.
func (r *Router) SwitchPropertyInspector(old, next *shared.ActionContext) {
	if old != nil {
		r.inspectorVisibility("propertyInspectorDidDisappear", *old)
	}
	if next != nil {
		r.inspectorVisibility("propertyInspectorDidAppear", *next)
	}
}

func (r *Router) inspectorVisibility(event string, target shared.ActionContext) {
	locks := r.stores.Acquire()
	instance, err := locks.Instance(target)
	locks.Release()
	if err != nil || instance == nil {
		return
	}
	err = r.sender.SendToPlugin(instance.Action.Plugin, inspectorVisibilityEvent{
		Event:   event,
		Action:  instance.Action.UUID,
		Context: instance.Context,
		Device:  target.Device,
	})
	if err != nil {
		log.Printf("[Events] %s to %s: %v", event, instance.Action.Plugin, err)
	}
}

// DeviceRegistered is wired to the registry's OnRegister hook. It pre-warms
// the device's profile stores, announces the connection to plugins and
// refreshes frontends.
func (r *Router) DeviceRegistered(info shared.DeviceInfo) {
	locks := r.stores.AcquireMut()
	if names, err := locks.ProfileStores().ListProfiles(info.ID); err == nil {
		for _, name := range names {
			if _, err := locks.ProfileStores().GetProfileStoreMut(info, name); err != nil {
				log.Printf("[Events] load profile %s of %s: %v", name, info.ID, err)
			}
		}
	}
	locks.Release()

	err := r.sender.SendToAllPlugins(deviceDidConnectEvent{
		Event:      "deviceDidConnect",
		Device:     info.ID,
		DeviceInfo: registrationInfoOf(info),
	})
	if err != nil {
		log.Printf("[Events] deviceDidConnect: %v", err)
	}
	r.notifyDevices()

	locks = r.stores.Acquire()
	defer locks.Release()
	profile, err := locks.DeviceStores().GetSelectedProfile(info.ID)
	if err != nil {
		return
	}
	if store, err := locks.ProfileStores().GetProfileStore(info.ID, profile); err == nil {
		r.announceProfile(&store.Value, "willAppear")
		for _, instance := range store.Value.Instances() {
			r.renderInstance(instance)
		}
	}
}

// DeviceDeregistered is wired to the registry's OnDeregister hook.
func (r *Router) DeviceDeregistered(info shared.DeviceInfo) {
	err := r.sender.SendToAllPlugins(deviceDidDisconnectEvent{
		Event:  "deviceDidDisconnect",
		Device: info.ID,
	})
	if err != nil {
		log.Printf("[Events] deviceDidDisconnect: %v", err)
	}
	r.notifyDevices()
}
