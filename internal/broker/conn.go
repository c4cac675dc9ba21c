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

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/protocol"
)

// ConnState is the explicit connection state machine. Status, heartbeat and
// result messages are only honored in StateAuthenticated, which makes
// out-of-sequence handling structurally impossible.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one extension connection as the broker sees it, from accept to
// close. A Session exists only after the auth handshake succeeds.
type Conn struct {
	broker     *Broker
	transport  Transport
	remoteAddr string
	logger     zerolog.Logger

	state     ConnState
	sessionID string
	pingStop  chan struct{}
	mutex     sync.Mutex
}

// Accept registers a new extension connection in the Connecting state. The
// caller feeds inbound messages through HandleMessage and must call Closed
// when the transport terminates.
func (b *Broker) Accept(transport Transport, remoteAddr string) *Conn {
	conn := &Conn{
		broker:     b,
		transport:  transport,
		remoteAddr: remoteAddr,
		logger:     b.logger.With().Str("remote_addr", remoteAddr).Logger(),
		state:      StateConnecting,
	}

	conn.logger.Info().Msg("Extension connected")
	return conn
}

// SessionID returns the session id once authenticated, or an empty string
func (c *Conn) SessionID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.sessionID
}

// State returns the current connection state
func (c *Conn) State() ConnState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// HandleMessage dispatches one raw inbound envelope. Protocol-level
// malformation is answered with an error envelope and never crashes the
// broker; unexpected handler faults go to the operator error hook.
func (c *Conn) HandleMessage(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.broker.reportError(fmt.Errorf("panic handling message from %s: %v", c.remoteAddr, r))
		}
	}()

	msg, err := protocol.ParseInbound(raw)
	if err != nil {
		code := CodeInvalidMessage
		if errors.Is(err, protocol.ErrUnknownType) {
			code = CodeUnknownMessageType
		}
		c.logger.Warn().Err(err).Msg("Rejected inbound message")
		c.sendError(code, err.Error())
		return
	}

	switch m := msg.(type) {
	case *protocol.AuthMessage:
		c.handleAuth(ctx, m)
	case *protocol.StatusMessage:
		if sessionID, ok := c.authenticated(); ok {
			c.broker.registry.SetActive(sessionID, m.WhatsappLoggedIn, m.Ready)
		}
	case *protocol.HeartbeatMessage:
		if sessionID, ok := c.authenticated(); ok {
			c.broker.registry.TouchHeartbeat(sessionID)
		}
	case *protocol.ResultMessage:
		if sessionID, ok := c.authenticated(); ok {
			if !c.broker.correlator.Resolve(sessionID, m.RequestID, m) {
				c.logger.Debug().
					Str("request_id", m.RequestID).
					Msg("Acknowledgment for unknown or already resolved request")
			}
		}
	}
}

// authenticated gates post-auth message types. Out-of-sequence messages get
// a NOT_AUTHENTICATED error envelope and are otherwise ignored.
func (c *Conn) authenticated() (string, bool) {
	c.mutex.Lock()
	state := c.state
	sessionID := c.sessionID
	c.mutex.Unlock()

	if state != StateAuthenticated {
		c.sendError(CodeNotAuthenticated, "authenticate first")
		return "", false
	}
	return sessionID, true
}

// handleAuth drives the authentication handshake. Credential validation is
// asynchronous, so the connection may have closed by the time the verdict
// arrives; that case is re-checked before any session is created.
func (c *Conn) handleAuth(ctx context.Context, msg *protocol.AuthMessage) {
	c.mutex.Lock()
	if c.state != StateConnecting {
		c.mutex.Unlock()
		c.logger.Debug().Msg("Ignoring duplicate auth message")
		return
	}
	c.mutex.Unlock()

	valid, err := c.broker.validate(ctx, msg.APIKey)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Credential validation failed")
		valid = false
	}

	c.mutex.Lock()
	closed := c.state == StateClosed
	c.mutex.Unlock()
	if closed {
		return
	}

	if !valid {
		c.sendError(CodeAuthenticationFailed, "invalid API key")
		c.transport.Close("authentication failed")
		c.logger.Warn().Msg("Authentication rejected")
		return
	}

	session, regErr := c.broker.registry.Register(msg.APIKey, c.transport, Metadata{
		ExtensionVersion: msg.ExtensionVersion,
		Browser:          msg.Browser,
	})
	if regErr != nil {
		c.sendError(CodeMaxSessionsExceeded, "session limit reached for this API key")
		c.transport.Close("session limit exceeded")
		c.logger.Warn().Msg("Session limit exceeded")
		return
	}

	c.mutex.Lock()
	c.state = StateAuthenticated
	c.sessionID = session.ID
	c.pingStop = make(chan struct{})
	pingStop := c.pingStop
	c.mutex.Unlock()

	c.send(protocol.BuildAuthSuccess(session.ID))

	go c.pingLoop(pingStop)

	c.logger.Info().
		Str("session_id", session.ID).
		Str("browser", msg.Browser).
		Msg("Extension authenticated")
}

// Closed tears the connection down: the session is unregistered (failing
// its pending requests) and the ping emission stops. Safe to call twice.
func (c *Conn) Closed() {
	c.mutex.Lock()
	if c.state == StateClosed {
		c.mutex.Unlock()
		return
	}
	c.state = StateClosed
	sessionID := c.sessionID
	pingStop := c.pingStop
	c.pingStop = nil
	c.mutex.Unlock()

	if pingStop != nil {
		close(pingStop)
	}
	if sessionID != "" {
		c.broker.registry.Unregister(sessionID)
	}

	c.logger.Info().
		Str("session_id", sessionID).
		Msg("Extension disconnected")
}

// pingLoop emits periodic pings; the extension answers with heartbeats
func (c *Conn) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.broker.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.send(protocol.BuildPing())
		case <-stop:
			return
		}
	}
}

func (c *Conn) send(envelope interface{}) {
	data, err := protocol.Serialize(envelope)
	if err != nil {
		c.broker.reportError(fmt.Errorf("failed to serialize envelope: %w", err))
		return
	}
	if err := c.transport.Send(data); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to send envelope")
	}
}

func (c *Conn) sendError(code, message string) {
	c.send(protocol.BuildError(code, message))
}
