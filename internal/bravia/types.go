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

package bravia

import (
	"errors"
	"fmt"
)

// BraviaEndpoint represents an API service path on the display
type BraviaEndpoint string

// BraviaMethod represents a JSON-RPC method name
type BraviaMethod string

// BraviaPayload is the JSON-RPC request body. Field order matches what the
// display firmware documents; params must encode as [] rather than null.
type BraviaPayload struct {
	Method  string `json:"method"`
	ID      int    `json:"id"`
	Params  []any  `json:"params"`
	Version string `json:"version"`
}

// Response is the outcome of one control call. Parsed holds the decoded
// vendor body, passed through unmodified.
type Response struct {
	StatusCode int            `json:"status_code"`
	RawBody    string         `json:"raw_body"`
	Parsed     map[string]any `json:"parsed"`
}

// ErrProtocol is matched by every *ProtocolError
var ErrProtocol = errors.New("display protocol error")

// ProtocolError reports a non-2xx status or an undecodable body
type ProtocolError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("control request failed with status %d: %v: %s", e.StatusCode, e.Err, e.Body)
	}
	return fmt.Sprintf("control request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
