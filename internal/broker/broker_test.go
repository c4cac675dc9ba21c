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
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/protocol"
)

// fakeTransport is an in-memory Transport capturing everything sent to it
type fakeTransport struct {
	mutex   sync.Mutex
	sent    [][]byte
	closed  bool
	reason  string
	sendErr error
}

func (t *fakeTransport) Send(data []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.sent = append(t.sent, buf)
	return nil
}

func (t *fakeTransport) Close(reason string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.closed = true
	t.reason = reason
	return nil
}

func (t *fakeTransport) IsOpen() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return !t.closed
}

func (t *fakeTransport) failSends(err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.sendErr = err
}

// findByType returns the first captured envelope with the given type tag
func (t *fakeTransport) findByType(msgType string) map[string]interface{} {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, raw := range t.sent {
		var env map[string]interface{}
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		if env["type"] == msgType {
			return env
		}
	}
	return nil
}

func waitForEnvelope(t *testing.T, tr *fakeTransport, msgType string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env := tr.findByType(msgType); env != nil {
			return env
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for a %s envelope", msgType)
	return nil
}

func errorCodeOf(env map[string]interface{}) string {
	detail, _ := env["error"].(map[string]interface{})
	code, _ := detail["code"].(string)
	return code
}

func alwaysValid(ctx context.Context, apiKey string) (bool, error) {
	return true, nil
}

func newTestBroker(t *testing.T, opts Options) *Broker {
	t.Helper()
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	b := New(alwaysValid, nil, opts)
	t.Cleanup(func() { b.Stop() })
	return b
}

// authExtension runs the handshake for a fake extension and marks it active
func authExtension(t *testing.T, b *Broker, transport *fakeTransport, apiKey string) *Conn {
	t.Helper()
	conn := b.Accept(transport, "test-peer")

	auth := fmt.Sprintf(`{"type":"auth","apiKey":"%s","data":{"extensionVersion":"1.0.0","browser":"chrome"}}`, apiKey)
	conn.HandleMessage(context.Background(), []byte(auth))
	if conn.State() != StateAuthenticated {
		t.Fatalf("Expected authenticated state, got %s", conn.State())
	}

	conn.HandleMessage(context.Background(), []byte(`{"type":"status","data":{"whatsappLoggedIn":true,"ready":true}}`))
	return conn
}

func TestConnAuthentication(t *testing.T) {
	t.Run("successful handshake creates a session", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := b.Accept(transport, "test-peer")

		conn.HandleMessage(context.Background(), []byte(`{"type":"auth","apiKey":"key-a"}`))

		if conn.State() != StateAuthenticated {
			t.Fatalf("Expected authenticated, got %s", conn.State())
		}

		env := waitForEnvelope(t, transport, protocol.TypeAuthSuccess)
		if env["sessionId"] != conn.SessionID() {
			t.Errorf("Expected session id %s in auth-success, got %v", conn.SessionID(), env["sessionId"])
		}
		if b.Registry().TotalCount() != 1 {
			t.Errorf("Expected 1 session, got %d", b.Registry().TotalCount())
		}
	})

	t.Run("invalid credentials close the connection", func(t *testing.T) {
		denyAll := func(ctx context.Context, apiKey string) (bool, error) { return false, nil }
		b := New(denyAll, nil, Options{HeartbeatInterval: time.Hour})
		t.Cleanup(func() { b.Stop() })

		transport := &fakeTransport{}
		conn := b.Accept(transport, "test-peer")
		conn.HandleMessage(context.Background(), []byte(`{"type":"auth","apiKey":"bad-key"}`))

		env := waitForEnvelope(t, transport, protocol.TypeError)
		if errorCodeOf(env) != CodeAuthenticationFailed {
			t.Errorf("Expected AUTHENTICATION_FAILED, got %v", env)
		}
		if transport.IsOpen() {
			t.Error("Expected transport closed after rejection")
		}
		if b.Registry().TotalCount() != 0 {
			t.Error("Expected no session after rejected auth")
		}
	})

	t.Run("validator errors are treated as rejection", func(t *testing.T) {
		failing := func(ctx context.Context, apiKey string) (bool, error) {
			return false, errors.New("credential store unavailable")
		}
		b := New(failing, nil, Options{HeartbeatInterval: time.Hour})
		t.Cleanup(func() { b.Stop() })

		transport := &fakeTransport{}
		conn := b.Accept(transport, "test-peer")
		conn.HandleMessage(context.Background(), []byte(`{"type":"auth","apiKey":"key-a"}`))

		env := waitForEnvelope(t, transport, protocol.TypeError)
		if errorCodeOf(env) != CodeAuthenticationFailed {
			t.Errorf("Expected AUTHENTICATION_FAILED, got %v", env)
		}
	})

	t.Run("duplicate auth is ignored", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := authExtension(t, b, transport, "key-a")

		first := conn.SessionID()
		conn.HandleMessage(context.Background(), []byte(`{"type":"auth","apiKey":"key-a"}`))

		if conn.SessionID() != first {
			t.Error("Expected duplicate auth to keep the original session")
		}
		if b.Registry().TotalCount() != 1 {
			t.Errorf("Expected 1 session, got %d", b.Registry().TotalCount())
		}
	})

	t.Run("session cap rejects the overflow connection", func(t *testing.T) {
		b := newTestBroker(t, Options{MaxSessionsPerKey: 1})

		authExtension(t, b, &fakeTransport{}, "key-a")

		overflow := &fakeTransport{}
		conn := b.Accept(overflow, "test-peer-2")
		conn.HandleMessage(context.Background(), []byte(`{"type":"auth","apiKey":"key-a"}`))

		env := waitForEnvelope(t, overflow, protocol.TypeError)
		if errorCodeOf(env) != CodeMaxSessionsExceeded {
			t.Errorf("Expected MAX_SESSIONS_EXCEEDED, got %v", env)
		}
		if overflow.IsOpen() {
			t.Error("Expected overflow transport closed")
		}
	})
}

func TestConnMessageGating(t *testing.T) {
	t.Run("post-auth messages before auth get NOT_AUTHENTICATED", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := b.Accept(transport, "test-peer")

		conn.HandleMessage(context.Background(), []byte(`{"type":"status","data":{"whatsappLoggedIn":true,"ready":true}}`))

		env := waitForEnvelope(t, transport, protocol.TypeError)
		if errorCodeOf(env) != CodeNotAuthenticated {
			t.Errorf("Expected NOT_AUTHENTICATED, got %v", env)
		}
		if b.Registry().TotalCount() != 0 {
			t.Error("Expected no session")
		}
	})

	t.Run("unknown message type gets its own error code", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := b.Accept(transport, "test-peer")

		conn.HandleMessage(context.Background(), []byte(`{"type":"telepathy"}`))

		env := waitForEnvelope(t, transport, protocol.TypeError)
		if errorCodeOf(env) != CodeUnknownMessageType {
			t.Errorf("Expected UNKNOWN_MESSAGE_TYPE, got %v", env)
		}
	})

	t.Run("malformed JSON gets INVALID_MESSAGE", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := b.Accept(transport, "test-peer")

		conn.HandleMessage(context.Background(), []byte(`{broken`))

		env := waitForEnvelope(t, transport, protocol.TypeError)
		if errorCodeOf(env) != CodeInvalidMessage {
			t.Errorf("Expected INVALID_MESSAGE, got %v", env)
		}
	})
}

func TestBrokerSend(t *testing.T) {
	payload := protocol.MessagePayload{PhoneNumber: "+1234567890", Message: "hello"}

	t.Run("round trip with acknowledgment", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := authExtension(t, b, transport, "key-a")

		type sendReturn struct {
			result *SendResult
			err    error
		}
		returned := make(chan sendReturn, 1)
		go func() {
			result, err := b.SendMessage(context.Background(), "key-a", payload)
			returned <- sendReturn{result, err}
		}()

		env := waitForEnvelope(t, transport, protocol.TypeSendMessage)
		requestID := env["requestId"].(string)

		ack := fmt.Sprintf(`{"type":"message-result","requestId":"%s","success":true}`, requestID)
		conn.HandleMessage(context.Background(), []byte(ack))

		got := <-returned
		if got.err != nil {
			t.Fatalf("Unexpected error: %v", got.err)
		}
		if !got.result.Success || got.result.RequestID != requestID {
			t.Errorf("Unexpected result: %+v", got.result)
		}
	})

	t.Run("device-reported failure is a result, not an error", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := authExtension(t, b, transport, "key-a")

		returned := make(chan *SendResult, 1)
		go func() {
			result, err := b.SendMessage(context.Background(), "key-a", payload)
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			returned <- result
		}()

		env := waitForEnvelope(t, transport, protocol.TypeSendMessage)
		ack := fmt.Sprintf(`{"type":"message-result","requestId":"%s","success":false,"error":"recipient blocked"}`, env["requestId"])
		conn.HandleMessage(context.Background(), []byte(ack))

		result := <-returned
		if result.Success || result.Error != "recipient blocked" {
			t.Errorf("Unexpected result: %+v", result)
		}
	})

	t.Run("no active session fails fast without a pending entry", func(t *testing.T) {
		b := newTestBroker(t, Options{})

		started := time.Now()
		_, err := b.SendMessage(context.Background(), "key-a", payload)
		if ErrorCode(err) != CodeNoActiveDevice {
			t.Fatalf("Expected NO_ACTIVE_DEVICE, got %v", err)
		}
		if elapsed := time.Since(started); elapsed > time.Second {
			t.Errorf("Expected immediate failure, took %v", elapsed)
		}
	})

	t.Run("invalid payload fails before dispatch", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		authExtension(t, b, transport, "key-a")

		bad := protocol.MessagePayload{PhoneNumber: "0123", Message: "hello"}
		_, err := b.SendMessage(context.Background(), "key-a", bad)
		if ErrorCode(err) != CodeValidationError {
			t.Errorf("Expected VALIDATION_ERROR, got %v", err)
		}
		if transport.findByType(protocol.TypeSendMessage) != nil {
			t.Error("Expected no command dispatched for invalid payload")
		}
	})

	t.Run("unacknowledged request times out", func(t *testing.T) {
		b := newTestBroker(t, Options{RequestTimeout: 30 * time.Millisecond})
		transport := &fakeTransport{}
		authExtension(t, b, transport, "key-a")

		_, err := b.SendMessage(context.Background(), "key-a", payload)
		if ErrorCode(err) != CodeRequestTimeout {
			t.Errorf("Expected REQUEST_TIMEOUT, got %v", err)
		}
	})

	t.Run("transport write failure reports connection lost", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		authExtension(t, b, transport, "key-a")

		transport.failSends(errors.New("broken pipe"))

		_, err := b.SendMessage(context.Background(), "key-a", payload)
		if ErrorCode(err) != CodeConnectionLost {
			t.Errorf("Expected CONNECTION_LOST, got %v", err)
		}
	})

	t.Run("disconnect fails the in-flight request", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := authExtension(t, b, transport, "key-a")

		returned := make(chan error, 1)
		go func() {
			_, err := b.SendMessage(context.Background(), "key-a", payload)
			returned <- err
		}()

		waitForEnvelope(t, transport, protocol.TypeSendMessage)
		conn.Closed()

		select {
		case err := <-returned:
			if ErrorCode(err) != CodeConnectionLost {
				t.Errorf("Expected CONNECTION_LOST, got %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for the send to fail")
		}
	})

	t.Run("media URL without a resolver is rejected", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		authExtension(t, b, transport, "key-a")

		_, err := b.SendImage(context.Background(), "key-a", protocol.ImagePayload{
			PhoneNumber: "+1234567890",
			ImageURL:    "https://example.com/a.png",
		})
		if ErrorCode(err) != CodeValidationError {
			t.Errorf("Expected VALIDATION_ERROR, got %v", err)
		}
	})
}

func TestBrokerLifecycle(t *testing.T) {
	t.Run("start and stop are idempotent", func(t *testing.T) {
		b := New(alwaysValid, nil, Options{HeartbeatInterval: time.Hour})

		if err := b.Start(); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if err := b.Start(); err != nil {
			t.Fatalf("Unexpected error on second start: %v", err)
		}
		if !b.IsRunning() {
			t.Error("Expected broker running")
		}

		if err := b.Stop(); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if err := b.Stop(); err != nil {
			t.Fatalf("Unexpected error on second stop: %v", err)
		}
		if b.IsRunning() {
			t.Error("Expected broker stopped")
		}
	})

	t.Run("stop tears down every session", func(t *testing.T) {
		b := New(alwaysValid, nil, Options{HeartbeatInterval: time.Hour})
		b.Start()

		authExtension(t, b, &fakeTransport{}, "key-a")
		authExtension(t, b, &fakeTransport{}, "key-b")

		b.Stop()
		if b.Registry().TotalCount() != 0 {
			t.Errorf("Expected no sessions after stop, got %d", b.Registry().TotalCount())
		}
	})

	t.Run("health reflects the running state", func(t *testing.T) {
		b := New(alwaysValid, nil, Options{HeartbeatInterval: time.Hour})

		if got := b.Health(); got.Status != "stopped" {
			t.Errorf("Expected stopped, got %s", got.Status)
		}

		b.Start()
		defer b.Stop()

		got := b.Health()
		if got.Status != "ok" {
			t.Errorf("Expected ok, got %s", got.Status)
		}
		if got.UptimeSeconds < 0 {
			t.Errorf("Unexpected uptime: %f", got.UptimeSeconds)
		}
	})
}

func TestConnClose(t *testing.T) {
	t.Run("close is idempotent", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		transport := &fakeTransport{}
		conn := authExtension(t, b, transport, "key-a")

		conn.Closed()
		conn.Closed()

		if conn.State() != StateClosed {
			t.Errorf("Expected closed state, got %s", conn.State())
		}
		if b.Registry().TotalCount() != 0 {
			t.Errorf("Expected no sessions, got %d", b.Registry().TotalCount())
		}
	})

	t.Run("close before auth leaves no trace", func(t *testing.T) {
		b := newTestBroker(t, Options{})
		conn := b.Accept(&fakeTransport{}, "test-peer")

		conn.Closed()
		if b.Registry().TotalCount() != 0 {
			t.Error("Expected no sessions")
		}
	})
}
