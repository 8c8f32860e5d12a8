package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sonyctl/internal/bluray"
	"sonyctl/internal/bravia"
	"sonyctl/internal/device"
)

// Action is a symbolic action name as callers send it
type Action string

// Display actions
const (
	SetBrightness10 Action = "SetBrightness10"
	SetBrightness25 Action = "SetBrightness25"
	SetBrightness49 Action = "SetBrightness49"
	GetBrightness   Action = "GetBrightness"
	SetPowerOn      Action = "SetPowerOn"
	SetPowerOff     Action = "SetPowerOff"
	GetPowerStatus  Action = "GetPowerStatus"
)

// Disc player actions (SetPowerOn and SetPowerOff are shared names)
const (
	Play  Action = "Play"
	Pause Action = "Pause"
	Stop  Action = "Stop"
	Eject Action = "Eject"
)

// discPrefix namespaces disc player actions in the flood guard and is also
// accepted on input
const discPrefix = "BluRay_"

type displayOp func(c *bravia.BraviaClient, ctx context.Context) (*bravia.Response, error)

type discOp func(c *bluray.Client, ctx context.Context) (string, error)

func setBrightness(value int) displayOp {
	return func(c *bravia.BraviaClient, ctx context.Context) (*bravia.Response, error) {
		return c.SetBrightness(ctx, value)
	}
}

func setDisplayPower(state string) displayOp {
	return func(c *bravia.BraviaClient, ctx context.Context) (*bravia.Response, error) {
		return c.SetPowerState(ctx, state)
	}
}

func setDiscPower(on bool) discOp {
	return func(c *bluray.Client, ctx context.Context) (string, error) {
		return c.SetPower(ctx, on)
	}
}

var displayActions = map[Action]displayOp{
	SetBrightness10: setBrightness(10),
	SetBrightness25: setBrightness(25),
	SetBrightness49: setBrightness(49),
	GetBrightness:   (*bravia.BraviaClient).GetBrightness,
	SetPowerOn:      setDisplayPower("on"),
	SetPowerOff:     setDisplayPower("off"),
	GetPowerStatus:  (*bravia.BraviaClient).GetPowerStatus,
}

var discActions = map[Action]discOp{
	Play:        (*bluray.Client).Play,
	Pause:       (*bluray.Client).Pause,
	Stop:        (*bluray.Client).Stop,
	Eject:       (*bluray.Client).Eject,
	SetPowerOn:  setDiscPower(true),
	SetPowerOff: setDiscPower(false),
}

// Resolve maps a caller supplied name to an action of the given kind and
// returns the key the flood guard tracks it under
func Resolve(kind device.Kind, name string) (Action, string, error) {
	switch kind {
	case device.KindDisplay:
		action := Action(name)
		if _, ok := displayActions[action]; ok {
			return action, name, nil
		}
	case device.KindDiscPlayer:
		action := Action(strings.TrimPrefix(name, discPrefix))
		if _, ok := discActions[action]; ok {
			return action, discPrefix + string(action), nil
		}
	}
	return "", "", fmt.Errorf("%w: %s %s", ErrUnknownAction, kind, name)
}

// ActionInfo names one available action
type ActionInfo struct {
	Kind   device.Kind `json:"kind"`
	Action Action      `json:"action"`
}

// Actions lists every action, display actions first, each group sorted
func Actions() []ActionInfo {
	var out []ActionInfo
	for _, group := range []struct {
		kind  device.Kind
		names []Action
	}{
		{device.KindDisplay, keys(displayActions)},
		{device.KindDiscPlayer, keys(discActions)},
	} {
		for _, name := range group.names {
			out = append(out, ActionInfo{Kind: group.kind, Action: name})
		}
	}
	return out
}

func keys[V any](m map[Action]V) []Action {
	names := make([]Action, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
