// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"sonyctl/internal/bluray"
	"sonyctl/internal/bravia"
	"sonyctl/internal/config"
	"sonyctl/internal/device"
	"sonyctl/internal/endpoint"
	"sonyctl/internal/flood"
	"sonyctl/internal/logger"
)

// Client-visible texts of the non-fatal dispatch errors
const (
	FloodingMessage        = "Flooding"
	CouldNotConnectMessage = "Could not connect to host"
)

var (
	// ErrFlooding is returned when the same action repeats inside the cooldown
	ErrFlooding = errors.New("flooding")
	// ErrCouldNotConnect is returned when a device endpoint cannot be built
	ErrCouldNotConnect = errors.New("could not connect to host")
	// ErrUnknownAction is returned for names outside the action table
	ErrUnknownAction = errors.New("unknown action")
)

// ClientMessage returns the text callers receive for ErrFlooding and
// ErrCouldNotConnect. ok is false for any other error.
func ClientMessage(err error) (msg string, ok bool) {
	switch {
	case errors.Is(err, ErrFlooding):
		return FloodingMessage, true
	case errors.Is(err, ErrCouldNotConnect):
		return CouldNotConnectMessage, true
	}
	return "", false
}

// Outcome describes one finished dispatch, admitted or not
type Outcome struct {
	ID        string          `json:"id"`
	Kind      device.Kind     `json:"kind"`
	Action    Action          `json:"action"`
	Results   []device.Result `json:"results,omitempty"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// Observer is notified synchronously after every dispatch, before Execute
// returns. Slow work belongs on the observer's own goroutine.
type Observer func(Outcome)

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithDisplayOptions appends options used for every display client
func WithDisplayOptions(opts ...bravia.Option) Option {
	return func(d *Dispatcher) {
		d.displayOpts = append(d.displayOpts, opts...)
	}
}

// WithDiscPlayerOptions appends options used for the disc player client
func WithDiscPlayerOptions(opts ...bluray.Option) Option {
	return func(d *Dispatcher) {
		d.discOpts = append(d.discOpts, opts...)
	}
}

// WithGuard replaces the flood guard built from the config
func WithGuard(g *flood.Guard) Option {
	return func(d *Dispatcher) {
		d.guard = g
	}
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		d.observers = append(d.observers, o)
	}
}

// Dispatcher maps action names to device calls behind a shared flood guard
type Dispatcher struct {
	mu          sync.RWMutex
	cfg         *config.Config
	guard       *flood.Guard
	ownsGuard   bool
	logger      zerolog.Logger
	displayOpts []bravia.Option
	discOpts    []bluray.Option

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates a dispatcher over cfg
func New(cfg *config.Config, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:    cfg,
		logger: logger.Component(log, "dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.guard == nil {
		d.guard = flood.NewGuard(cfg.GetFloodCooldown(), cfg.GetFloodWindow())
		d.ownsGuard = true
	}
	return d
}

// Subscribe registers an observer after construction
func (d *Dispatcher) Subscribe(o Observer) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.observers = append(d.observers, o)
}

// Reload swaps the device configuration and applies the flood settings to
// the guard. The last recorded action is kept. A guard supplied with
// WithGuard belongs to the caller and is left untouched.
func (d *Dispatcher) Reload(cfg *config.Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	if d.ownsGuard {
		d.guard.Configure(cfg.GetFloodCooldown(), cfg.GetFloodWindow())
	}
	d.logger.Info().
		Int("displays", len(cfg.Displays)).
		Str("disc_player", cfg.DiscPlayer.Host).
		Str("flood_cooldown", d.guard.Cooldown().String()).
		Str("flood_window", d.guard.Window().String()).
		Msg("Configuration reloaded")
}

// Config returns the active configuration
func (d *Dispatcher) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Guard returns the flood guard
func (d *Dispatcher) Guard() *flood.Guard {
	return d.guard
}

// Execute runs the named action against every device of kind. Unknown names
// fail with ErrUnknownAction and are not reported to observers. The flood
// guard is consulted before any endpoint is touched. Endpoint construction
// failures abort the whole call before any device is contacted; failures of
// individual device calls are reported per device in the results.
func (d *Dispatcher) Execute(ctx context.Context, kind device.Kind, name string) ([]device.Result, error) {
	action, floodKey, err := Resolve(kind, name)
	if err != nil {
		return nil, err
	}

	out := Outcome{
		ID:        uuid.New().String(),
		Kind:      kind,
		Action:    action,
		StartedAt: time.Now(),
	}

	results, err := d.execute(ctx, kind, action, floodKey, out.ID)

	out.Results = results
	out.Duration = time.Since(out.StartedAt)
	if msg, ok := ClientMessage(err); ok {
		out.Error = msg
	} else if err != nil {
		out.Error = err.Error()
	}
	d.notify(out)

	return results, err
}

func (d *Dispatcher) execute(ctx context.Context, kind device.Kind, action Action, floodKey, requestID string) ([]device.Result, error) {
	if d.guard.Check(floodKey) {
		d.logger.Warn().
			Str("action", floodKey).
			Msg("Suppressed repeated action")
		return nil, ErrFlooding
	}

	cfg := d.Config()

	d.logger.Info().
		Str("kind", string(kind)).
		Str("action", string(action)).
		Str("request_id", requestID).
		Msg("Dispatching action")

	switch kind {
	case device.KindDisplay:
		return d.executeDisplays(ctx, cfg, action)
	case device.KindDiscPlayer:
		return d.executeDiscPlayer(ctx, cfg, action)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, kind)
}

func (d *Dispatcher) executeDisplays(ctx context.Context, cfg *config.Config, action Action) ([]device.Result, error) {
	op := displayActions[action]

	clients := make([]*bravia.BraviaClient, 0, len(cfg.Displays))
	for _, dc := range cfg.Displays {
		client, err := d.displayClient(dc)
		if err != nil {
			d.logger.Error().Err(err).Str("device", dc.ID).Str("host", dc.Host).Msg("Invalid display endpoint")
			return nil, fmt.Errorf("%w: %s: %v", ErrCouldNotConnect, dc.ID, err)
		}
		clients = append(clients, client)
	}

	results := make([]device.Result, 0, len(clients))
	for i, client := range clients {
		id := cfg.Displays[i].ID
		resp, err := op(client, ctx)
		if err != nil {
			d.logger.Error().Err(err).Str("device", id).Str("action", string(action)).Msg("Display call failed")
			results = append(results, device.Result{Device: id, Error: err.Error()})
			continue
		}
		results = append(results, device.Result{Device: id, Data: resp.Parsed})
	}
	return results, nil
}

func (d *Dispatcher) executeDiscPlayer(ctx context.Context, cfg *config.Config, action Action) ([]device.Result, error) {
	op := discActions[action]
	dc := cfg.DiscPlayer

	client, err := d.discClient(dc)
	if err != nil {
		d.logger.Error().Err(err).Str("device", dc.ID).Str("host", dc.Host).Msg("Invalid disc player endpoint")
		return nil, fmt.Errorf("%w: %s: %v", ErrCouldNotConnect, dc.ID, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, dc.GetCallTimeout())
	defer cancel()

	reply, err := op(client, callCtx)
	if err != nil {
		d.logger.Error().Err(err).Str("device", dc.ID).Str("action", string(action)).Msg("Disc player call failed")
		return []device.Result{{Device: dc.ID, Error: err.Error()}}, nil
	}
	return []device.Result{{Device: dc.ID, Data: reply}}, nil
}

func (d *Dispatcher) displayClient(dc config.DisplayConfig) (*bravia.BraviaClient, error) {
	ep, err := endpoint.New(dc.Host, dc.Port, dc.PSK, endpoint.SchemeREST)
	if err != nil {
		return nil, err
	}
	opts := append([]bravia.Option{
		bravia.WithLogger(d.logger),
		bravia.WithTimeout(dc.GetRequestTimeout()),
	}, d.displayOpts...)
	return bravia.NewBraviaClient(ep, opts...)
}

func (d *Dispatcher) discClient(dc config.DiscPlayerConfig) (*bluray.Client, error) {
	ep, err := endpoint.New(dc.Host, dc.Port, "", endpoint.SchemeSocket)
	if err != nil {
		return nil, err
	}
	opts := append([]bluray.Option{
		bluray.WithLogger(d.logger),
		bluray.WithReadTimeout(dc.GetReadTimeout()),
		bluray.WithReadPolicy(dc.GetReadPolicy()),
	}, d.discOpts...)
	return bluray.NewClient(ep, opts...)
}

// Devices describes every configured device
func (d *Dispatcher) Devices() []device.Info {
	cfg := d.Config()

	var displayCaps, discCaps []string
	for _, a := range Actions() {
		if a.Kind == device.KindDisplay {
			displayCaps = append(displayCaps, string(a.Action))
		} else {
			discCaps = append(discCaps, string(a.Action))
		}
	}

	infos := make([]device.Info, 0, len(cfg.Displays)+1)
	for _, dc := range cfg.Displays {
		infos = append(infos, device.Info{
			ID:           dc.ID,
			Kind:         device.KindDisplay,
			Model:        dc.Model,
			Address:      fmt.Sprintf("%s:%d", dc.Host, dc.Port),
			Capabilities: displayCaps,
		})
	}
	infos = append(infos, device.Info{
		ID:           cfg.DiscPlayer.ID,
		Kind:         device.KindDiscPlayer,
		Model:        cfg.DiscPlayer.Model,
		Address:      fmt.Sprintf("%s:%d", cfg.DiscPlayer.Host, cfg.DiscPlayer.Port),
		Capabilities: discCaps,
	})
	return infos
}

func (d *Dispatcher) notify(out Outcome) {
	d.obsMu.RLock()
	defer d.obsMu.RUnlock()
	for _, o := range d.observers {
		o(out)
	}
}
