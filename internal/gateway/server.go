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

package gateway

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/broker"
	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
)

// wsWriteTimeout bounds a single outbound frame write
const wsWriteTimeout = 10 * time.Second

// wsReadLimit allows for command envelopes carrying embedded media
const wsReadLimit = 1 << 20 // 1 MiB; inbound frames are small

// wsTransport adapts a websocket connection to the broker's Transport
type wsTransport struct {
	conn *websocket.Conn
	open atomic.Bool
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{conn: conn}
	t.open.Store(true)
	return t
}

// Send writes one whole text frame
func (t *wsTransport) Send(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()

	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.open.Store(false)
		return err
	}
	return nil
}

// Close terminates the connection with a policy-violation close frame
func (t *wsTransport) Close(reason string) error {
	t.open.Store(false)
	return t.conn.Close(websocket.StatusPolicyViolation, reason)
}

// IsOpen reports whether the connection is still usable
func (t *wsTransport) IsOpen() bool {
	return t.open.Load()
}

// WSHandler accepts extension websocket connections and bridges them into
// the broker: one read loop per connection, arrival order preserved.
type WSHandler struct {
	broker *broker.Broker
	logger zerolog.Logger
}

// NewWSHandler creates the websocket endpoint handler
func NewWSHandler(b *broker.Broker) *WSHandler {
	return &WSHandler{
		broker: b,
		logger: logger.GetLogger("ws"),
	}
}

// ServeHTTP upgrades the request and runs the connection's read loop until
// the extension disconnects
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Extensions connect from browser-internal origins
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn().
			Str("remote_addr", r.RemoteAddr).
			Err(err).
			Msg("WebSocket upgrade failed")
		return
	}
	wsConn.SetReadLimit(wsReadLimit)

	transport := newWSTransport(wsConn)
	conn := h.broker.Accept(transport, r.RemoteAddr)
	defer conn.Closed()
	defer wsConn.CloseNow()

	ctx := r.Context()
	for {
		msgType, data, err := wsConn.Read(ctx)
		if err != nil {
			transport.open.Store(false)
			h.logger.Debug().
				Str("remote_addr", r.RemoteAddr).
				Err(err).
				Msg("WebSocket read loop ended")
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		conn.HandleMessage(ctx, data)
	}
}
