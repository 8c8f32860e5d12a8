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

// Package endpoint validates device addresses and builds the immutable
// endpoint descriptors the device clients are constructed from.
package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// ErrInvalidAddress is returned for anything that is not a literal IPv4 or IPv6 address
var ErrInvalidAddress = errors.New("invalid address")

// Scheme identifies the control protocol spoken to a device
type Scheme string

const (
	SchemeREST   Scheme = "rest"
	SchemeSocket Scheme = "socket"
)

// Validate parses a literal IP address (dotted-quad or colon form) and returns
// its normalized form. Hostnames are rejected; no lookup is ever performed.
func Validate(host string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, host)
	}
	return addr, nil
}

// Endpoint is a validated device address plus its access credential.
// Fields are unexported so an Endpoint can only come out of New.
type Endpoint struct {
	addr       netip.Addr
	port       int
	credential string
	scheme     Scheme
}

// New validates host and returns an Endpoint. It never returns a partially
// initialized value: on error the zero Endpoint is returned.
func New(host string, port int, credential string, scheme Scheme) (Endpoint, error) {
	addr, err := Validate(host)
	if err != nil {
		return Endpoint{}, err
	}
	if port < 1 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}

	switch scheme {
	case SchemeREST, SchemeSocket:
	default:
		return Endpoint{}, fmt.Errorf("unknown scheme: %s", scheme)
	}

	return Endpoint{
		addr:       addr,
		port:       port,
		credential: credential,
		scheme:     scheme,
	}, nil
}

// Addr returns the normalized address
func (e Endpoint) Addr() netip.Addr { return e.addr }

// Port returns the TCP port
func (e Endpoint) Port() int { return e.port }

// Credential returns the pre-shared key
func (e Endpoint) Credential() string { return e.credential }

// Scheme returns the control protocol
func (e Endpoint) Scheme() Scheme { return e.scheme }

// IsValid reports whether the endpoint was produced by New
func (e Endpoint) IsValid() bool { return e.addr.IsValid() }

// HostPort returns "host:port", bracketing IPv6 addresses
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.addr.String(), strconv.Itoa(e.port))
}

// String omits the credential
func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.scheme, e.HostPort())
}
