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

package bluray

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"sonyctl/internal/endpoint"
	"sonyctl/internal/logger"
)

// Client drives the player's line-oriented TCP control protocol. Every
// command opens a fresh connection, drains the two notification frames the
// player pushes on connect, sends one frame, reads one reply and closes.
// No state survives between calls.
type Client struct {
	endpoint    endpoint.Endpoint
	dialer      *net.Dialer
	readTimeout time.Duration
	policy      ReadPolicy
	logger      zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithLogger sets the logger handle
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = log
	}
}

// WithReadTimeout sets the per-read socket timeout
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithDialTimeout bounds the TCP connect
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialer.Timeout = d
		}
	}
}

// WithReadPolicy selects how a read timeout is treated
func WithReadPolicy(p ReadPolicy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// NewClient creates a client for a socket endpoint
func NewClient(ep endpoint.Endpoint, opts ...Option) (*Client, error) {
	if !ep.IsValid() {
		return nil, fmt.Errorf("failed to create disc player client: %w", endpoint.ErrInvalidAddress)
	}
	if ep.Scheme() != endpoint.SchemeSocket {
		return nil, fmt.Errorf("disc player client requires a %s endpoint, got %s", endpoint.SchemeSocket, ep.Scheme())
	}

	c := &Client{
		endpoint:    ep,
		dialer:      &net.Dialer{Timeout: DefaultDialTimeout},
		readTimeout: DefaultReadTimeout,
		policy:      BestEffort,
		logger:      logger.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With().Str("disc_player", ep.HostPort()).Logger()

	return c, nil
}

// Endpoint returns the endpoint the client was built from
func (c *Client) Endpoint() endpoint.Endpoint {
	return c.endpoint
}

// Eject opens the disc tray
func (c *Client) Eject(ctx context.Context) (string, error) { return c.Send(ctx, EjectCommand) }

// Play starts playback
func (c *Client) Play(ctx context.Context) (string, error) { return c.Send(ctx, PlayCommand) }

// Pause pauses playback
func (c *Client) Pause(ctx context.Context) (string, error) { return c.Send(ctx, PauseCommand) }

// Stop stops playback
func (c *Client) Stop(ctx context.Context) (string, error) { return c.Send(ctx, StopCommand) }

// SetPower switches the player on or off
func (c *Client) SetPower(ctx context.Context, on bool) (string, error) {
	if on {
		return c.Send(ctx, PowerOnCommand)
	}
	return c.Send(ctx, PowerOffCommand)
}

// Send runs one full session for cmd and returns the reply frame without its
// terminator. Under BestEffort a silent player yields an empty reply, not an error.
func (c *Client) Send(ctx context.Context, cmd Command) (string, error) {
	frame, err := cmd.Frame()
	if err != nil {
		return "", err
	}

	addr := c.endpoint.HostPort()
	conn, err := c.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		c.logger.Error().Err(err).Msg("Failed to connect to disc player")
		return "", &ConnectionError{Addr: addr, Op: "connect", Err: err}
	}
	defer conn.Close()

	// closing the socket is what interrupts a blocked read on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	reader := newFrameReader(conn, c.readTimeout, c.policy)

	for i := 1; i <= NotificationFrames; i++ {
		notify, err := reader.ReadFrame(ctx)
		if err != nil {
			return "", c.wrapErr(ctx, addr, "read notification", err)
		}
		c.logger.Debug().
			Int("frame", i).
			Str("notification", notify).
			Msg("Discarded notification frame")
	}

	c.logger.Debug().
		Str("feature", cmd.Feature).
		Str("frame", strings.TrimSpace(string(frame))).
		Msg("Sending disc player command")

	if err := conn.SetWriteDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return "", c.wrapErr(ctx, addr, "write", err)
	}
	if _, err := conn.Write(frame); err != nil {
		return "", c.wrapErr(ctx, addr, "write", err)
	}

	response, err := reader.ReadFrame(ctx)
	if err != nil {
		return response, c.wrapErr(ctx, addr, "read response", err)
	}

	c.logger.Debug().
		Str("feature", cmd.Feature).
		Str("response", response).
		Msg("Disc player command completed")

	return response, nil
}

func (c *Client) wrapErr(ctx context.Context, addr, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, ErrIncompleteFrame) {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.logger.Error().Err(err).Str("op", op).Msg("Disc player session failed")
	return &ConnectionError{Addr: addr, Op: op, Err: err}
}

// frameReader splits the byte stream into newline-terminated frames, reading
// ChunkSize bytes at a time. Bytes past a terminator stay buffered for the
// next frame, so coalesced notifications are not lost.
type frameReader struct {
	conn    net.Conn
	timeout time.Duration
	policy  ReadPolicy
	pending []byte
	chunk   []byte
}

func newFrameReader(conn net.Conn, timeout time.Duration, policy ReadPolicy) *frameReader {
	return &frameReader{
		conn:    conn,
		timeout: timeout,
		policy:  policy,
		chunk:   make([]byte, ChunkSize),
	}
}

// ReadFrame returns the next frame without its terminator. A timeout or EOF
// ends the frame early; under BestEffort that is not an error.
func (r *frameReader) ReadFrame(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(r.pending, '\n'); i >= 0 {
			frame := trimFrame(r.pending[:i])
			r.pending = r.pending[i+1:]
			return frame, nil
		}

		if err := ctx.Err(); err != nil {
			return string(r.pending), err
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return "", err
		}

		n, err := r.conn.Read(r.chunk)
		r.pending = append(r.pending, r.chunk[:n]...)
		if n > 0 && bytes.IndexByte(r.chunk[:n], '\n') >= 0 {
			continue
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			if !isTimeout(err) && !errors.Is(err, io.EOF) {
				return "", err
			}

			partial := trimFrame(r.pending)
			r.pending = nil
			if r.policy == Strict {
				return partial, ErrIncompleteFrame
			}
			return partial, nil
		}
	}
}

func trimFrame(b []byte) string {
	return strings.TrimRight(string(b), "\r\n")
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
