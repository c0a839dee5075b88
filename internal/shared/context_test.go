package shared

import (
	"encoding/json"
	"testing"
)

func TestActionContextRoundTrip(t *testing.T) {
	cases := []ActionContext{
		{Device: "pk-a1b2", Profile: "Default", Controller: ControllerKeypad, Position: 4, Index: 0},
		{Device: "sd-XYZ", Profile: "Streaming", Controller: ControllerEncoder, Position: 1, Index: 3},
		{Device: "vd-0", Profile: "Folder.Nested", Controller: ControllerKeypad, Position: 255, Index: 65535},
		{Device: "d", Profile: "", Controller: ControllerKeypad, Position: 0, Index: 0},
	}
	for _, want := range cases {
		got, err := ParseActionContext(want.String())
		if err != nil {
			t.Fatalf("parse %q: %v", want.String(), err)
		}
		if got != want {
			t.Fatalf("round trip mismatch: %+v != %+v", got, want)
		}
	}
}

func TestParseActionContextMalformed(t *testing.T) {
	for _, s := range []string{"", "a.b.c", "dev.prof.Keypad.x.0", "dev.prof.Keypad.0.y", "dev.prof.Keypad.300.0"} {
		if _, err := ParseActionContext(s); err == nil {
			t.Fatalf("expected error parsing %q", s)
		}
	}
}

func TestActionContextJSON(t *testing.T) {
	ctx := ActionContext{Device: "sd-1", Profile: "Default", Controller: ControllerKeypad, Position: 7, Index: 1}

	data, err := json.Marshal(ctx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"sd-1.Default.Keypad.7.1"` {
		t.Fatalf("unexpected JSON form: %s", data)
	}

	var back ActionContext
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != ctx {
		t.Fatalf("JSON round trip mismatch: %+v != %+v", back, ctx)
	}
}

func TestFromContext(t *testing.T) {
	slot := Context{Device: "sd-1", Profile: "Default", Controller: ControllerEncoder, Position: 2}
	ctx := FromContext(slot, 5)
	if ctx.Index != 5 || ctx.ToContext() != slot {
		t.Fatalf("FromContext/ToContext mismatch: %+v", ctx)
	}
}

func TestNewInstance(t *testing.T) {
	action := Action{
		UUID:        "com.example.counter.increment",
		Controllers: []string{ControllerKeypad},
		States:      []ActionState{{Image: "a.png"}, {Image: "b.png"}},
	}
	instance := NewInstance(action, ActionContext{Device: "d", Profile: "Default", Controller: ControllerKeypad})
	if instance.Children != nil {
		t.Fatal("leaf instance must not carry children")
	}
	instance.States[0].Image = "changed.png"
	if action.States[0].Image != "a.png" {
		t.Fatal("instance states must not alias the action template")
	}

	container := NewInstance(Action{UUID: MultiActionUUID}, ActionContext{})
	if container.Children == nil || len(container.Children) != 0 {
		t.Fatal("container instance must start with an empty child list")
	}
}
