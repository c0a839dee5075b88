package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// Context is the address of a slot: a position on one controller of one
// profile of one device. It does not distinguish between the instances
// stacked at that slot.
type Context struct {
	Device     string `json:"device"`
	Profile    string `json:"profile"`
	Controller string `json:"controller"`
	Position   uint8  `json:"position"`
}

// ActionContext is the unique address of one configured instance. Index
// disambiguates instances stacked at the same slot: the top-level instance
// has index 0, children of a container count from 1.
//
// Its canonical delimited string form is the protocol-level correlation id
// exchanged with plugins, so it marshals to and from a JSON string.
type ActionContext struct {
	Device     string
	Profile    string
	Controller string
	Position   uint8
	Index      uint16
}

// FromContext derives an instance address from a slot address and an index.
func FromContext(context Context, index uint16) ActionContext {
	return ActionContext{
		Device:     context.Device,
		Profile:    context.Profile,
		Controller: context.Controller,
		Position:   context.Position,
		Index:      index,
	}
}

// ToContext drops the index from an instance address.
func (c ActionContext) ToContext() Context {
	return Context{
		Device:     c.Device,
		Profile:    c.Profile,
		Controller: c.Controller,
		Position:   c.Position,
	}
}

func (c ActionContext) String() string {
	return fmt.Sprintf("%s.%s.%s.%d.%d", c.Device, c.Profile, c.Controller, c.Position, c.Index)
}

// ParseActionContext parses the canonical delimited form. Profile names may
// themselves contain the delimiter, so the fixed fields are taken from the
// ends and the remainder is the profile.
func ParseActionContext(s string) (ActionContext, error) {
	segments := strings.Split(s, ".")
	if len(segments) < 5 {
		return ActionContext{}, fmt.Errorf("shared: malformed context %q", s)
	}
	position, err := strconv.ParseUint(segments[len(segments)-2], 10, 8)
	if err != nil {
		return ActionContext{}, fmt.Errorf("shared: malformed context position in %q: %w", s, err)
	}
	index, err := strconv.ParseUint(segments[len(segments)-1], 10, 16)
	if err != nil {
		return ActionContext{}, fmt.Errorf("shared: malformed context index in %q: %w", s, err)
	}
	return ActionContext{
		Device:     segments[0],
		Profile:    strings.Join(segments[1:len(segments)-3], "."),
		Controller: segments[len(segments)-3],
		Position:   uint8(position),
		Index:      uint16(index),
	}, nil
}

// MarshalText implements encoding.TextMarshaler so the context serializes as
// its canonical string in JSON frames and map keys.
func (c ActionContext) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ActionContext) UnmarshalText(text []byte) error {
	parsed, err := ParseActionContext(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
