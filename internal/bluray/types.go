package bluray

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Command is one control frame sent to the player
type Command struct {
	Type    string `json:"type"`
	Feature string `json:"feature"`
	Value   string `json:"value"`
}

// Frame serializes the command and appends the newline terminator
func (c Command) Frame() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}
	return append(data, '\n'), nil
}

// Feature names understood by the player
const (
	FeatureEject = "gui.ejectdisc"
	FeaturePlay  = "gui.play"
	FeaturePause = "gui.pause"
	FeatureStop  = "gui.stop"
	FeaturePower = "power"
)

const (
	commandTypeSet = "set"
	valuePulse     = "pulse"
)

var (
	EjectCommand    = Command{Type: commandTypeSet, Feature: FeatureEject, Value: valuePulse}
	PlayCommand     = Command{Type: commandTypeSet, Feature: FeaturePlay, Value: valuePulse}
	PauseCommand    = Command{Type: commandTypeSet, Feature: FeaturePause, Value: valuePulse}
	StopCommand     = Command{Type: commandTypeSet, Feature: FeatureStop, Value: valuePulse}
	PowerOnCommand  = Command{Type: commandTypeSet, Feature: FeaturePower, Value: "on"}
	PowerOffCommand = Command{Type: commandTypeSet, Feature: FeaturePower, Value: "off"}
)

const (
	DefaultPort        = 3336
	DefaultReadTimeout = 30 * time.Second
	DefaultDialTimeout = 10 * time.Second

	// NotificationFrames pushed by the player right after connect
	NotificationFrames = 2
	// ChunkSize of every socket read
	ChunkSize = 96
)

// ReadPolicy decides what a read timeout means while waiting for a frame
type ReadPolicy int

const (
	// BestEffort returns whatever arrived before the timeout, possibly nothing
	BestEffort ReadPolicy = iota
	// Strict fails with ErrIncompleteFrame when no terminator arrived
	Strict
)

// ParseReadPolicy maps "best_effort" / "strict" to a ReadPolicy
func ParseReadPolicy(s string) (ReadPolicy, error) {
	switch s {
	case "", "best_effort":
		return BestEffort, nil
	case "strict":
		return Strict, nil
	default:
		return BestEffort, fmt.Errorf("unknown read policy: %s", s)
	}
}

func (p ReadPolicy) String() string {
	if p == Strict {
		return "strict"
	}
	return "best_effort"
}

var (
	// ErrConnection is matched by every *ConnectionError
	ErrConnection = errors.New("disc player connection error")
	// ErrIncompleteFrame is returned under Strict when a frame never terminated
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// ConnectionError reports a failed connect or a broken socket
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("disc player %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
