package device

import "fmt"

// Kind is the class of device an action targets
type Kind string

const (
	KindDisplay    Kind = "display"
	KindDiscPlayer Kind = "disc_player"
)

// ParseKind accepts the kind names plus the route names the HTTP API uses
func ParseKind(s string) (Kind, error) {
	switch s {
	case string(KindDisplay), "bravia":
		return KindDisplay, nil
	case string(KindDiscPlayer), "bluray":
		return KindDiscPlayer, nil
	default:
		return "", fmt.Errorf("unknown device kind: %s", s)
	}
}

// Info contains basic information about a configured device
type Info struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Model        string   `json:"model"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities"`
}

// Result is the outcome of one device call inside a dispatched action.
// Exactly one of Data and Error is set.
type Result struct {
	Device string `json:"device"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the device call succeeded
func (r Result) OK() bool {
	return r.Error == ""
}
