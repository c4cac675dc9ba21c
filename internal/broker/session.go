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

package broker

import "time"

// Transport is one bidirectional channel to a connected extension. The
// wire layer must deliver whole text messages, preserve per-connection
// ordering and signal closure through Send errors and IsOpen.
type Transport interface {
	// Send writes one whole message to the extension
	Send(data []byte) error

	// Close terminates the connection with a reason visible to the peer
	Close(reason string) error

	// IsOpen reports whether the connection is still usable
	IsOpen() bool
}

// Metadata is the client-supplied session metadata from the auth handshake
type Metadata struct {
	ExtensionVersion string `json:"extensionVersion"`
	Browser          string `json:"browser"`
}

// Session is one authenticated extension connection under an API key.
// The session exclusively owns its transport: closing the transport
// terminates the session.
type Session struct {
	ID              string
	APIKey          string
	Transport       Transport
	Metadata        Metadata
	Active          bool
	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
}

// SessionInfo is an immutable snapshot of a session safe for external callers
type SessionInfo struct {
	SessionID        string    `json:"sessionId"`
	Active           bool      `json:"active"`
	ConnectedAt      time.Time `json:"connectedAt"`
	LastHeartbeatAt  time.Time `json:"lastHeartbeatAt"`
	ExtensionVersion string    `json:"extensionVersion"`
	Browser          string    `json:"browser"`
}

func (s *Session) snapshot() SessionInfo {
	return SessionInfo{
		SessionID:        s.ID,
		Active:           s.Active,
		ConnectedAt:      s.ConnectedAt,
		LastHeartbeatAt:  s.LastHeartbeatAt,
		ExtensionVersion: s.Metadata.ExtensionVersion,
		Browser:          s.Metadata.Browser,
	}
}
