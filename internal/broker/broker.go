package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/protocol"
)

// CredentialValidator decides whether an API key may open sessions. It is
// supplied by the hosting process; the broker imposes no policy of its own.
type CredentialValidator func(ctx context.Context, apiKey string) (bool, error)

// MediaResolver turns a fetchable media reference into an embeddable data
// URL before the command goes out to the extension.
type MediaResolver func(ctx context.Context, mediaURL string) (string, error)

// SendResult is the acknowledgment payload returned to send callers
type SendResult struct {
	RequestID string    `json:"requestId"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthStatus is the broker health snapshot
type HealthStatus struct {
	Status            string    `json:"status"`
	TotalSessionCount int       `json:"totalSessionCount"`
	UptimeSeconds     float64   `json:"uptimeSeconds"`
	Now               time.Time `json:"now"`
}

// Broker is the session broker and request-correlation engine. All state
// hangs off the instance, so multiple brokers can coexist in one process.
type Broker struct {
	opts         Options
	validate     CredentialValidator
	resolveMedia MediaResolver
	registry     *Registry
	correlator   *Correlator
	sweeper      *Sweeper
	logger       zerolog.Logger
	startedAt    time.Time
	running      bool
	mutex        sync.RWMutex
}

// New creates a broker with the given credential validator and media
// resolver. A nil resolver rejects every fetchable media reference.
func New(validate CredentialValidator, resolveMedia MediaResolver, opts Options) *Broker {
	opts = opts.normalize()

	correlator := NewCorrelator()
	registry := NewRegistry(opts.MaxSessionsPerKey, opts.Strategy, correlator)

	b := &Broker{
		opts:         opts,
		validate:     validate,
		resolveMedia: resolveMedia,
		registry:     registry,
		correlator:   correlator,
		logger:       logger.GetLogger("broker"),
	}

	b.sweeper = NewSweeper(registry, opts.HeartbeatInterval, 2*opts.HeartbeatInterval, func(s *Session) {
		s.Transport.Close("heartbeat timeout")
	})

	return b
}

// Start begins the liveness sweep; starting twice is a no-op
func (b *Broker) Start() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.running {
		return nil
	}

	b.startedAt = time.Now()
	b.running = true
	b.sweeper.Start()

	b.logger.Info().
		Dur("heartbeat_interval", b.opts.HeartbeatInterval).
		Dur("request_timeout", b.opts.RequestTimeout).
		Int("max_sessions_per_key", b.opts.MaxSessionsPerKey).
		Str("strategy", string(b.opts.Strategy)).
		Msg("Broker started")

	return nil
}

// Stop halts the sweeper and tears down every session. Pending requests
// fail with a connection-lost failure.
func (b *Broker) Stop() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.running {
		return nil
	}

	b.sweeper.Stop()

	for _, id := range b.registry.AllSessionIDs() {
		b.registry.Unregister(id)
	}
	b.running = false

	b.logger.Info().Msg("Broker stopped")
	return nil
}

// IsRunning reports whether the broker has been started
func (b *Broker) IsRunning() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.running
}

// Registry exposes the session registry for inspection
func (b *Broker) Registry() *Registry {
	return b.registry
}

// ListActiveSessions returns snapshots of the active sessions for an API key
func (b *Broker) ListActiveSessions(apiKey string) []SessionInfo {
	return b.registry.ListActiveSessions(apiKey)
}

// ListSessions returns snapshots of every session for an API key
func (b *Broker) ListSessions(apiKey string) []SessionInfo {
	return b.registry.ListSessions(apiKey)
}

// Health returns the broker health snapshot
func (b *Broker) Health() HealthStatus {
	b.mutex.RLock()
	startedAt := b.startedAt
	running := b.running
	b.mutex.RUnlock()

	status := "ok"
	if !running {
		status = "stopped"
	}

	now := time.Now()
	uptime := 0.0
	if running {
		uptime = now.Sub(startedAt).Seconds()
	}

	return HealthStatus{
		Status:            status,
		TotalSessionCount: b.registry.TotalCount(),
		UptimeSeconds:     uptime,
		Now:               now,
	}
}

// SendMessage sends a text message through one of the key's active sessions
// and waits for the extension's acknowledgment.
func (b *Broker) SendMessage(ctx context.Context, apiKey string, payload protocol.MessagePayload) (*SendResult, error) {
	if err := protocol.ValidateMessagePayload(payload); err != nil {
		return nil, NewSendError(CodeValidationError, "%v", err)
	}

	return b.dispatch(apiKey, protocol.TypeSendMessage, func(requestID string) *protocol.CommandEnvelope {
		return protocol.BuildSendMessage(requestID, payload.PhoneNumber, payload.Message)
	})
}

// SendImage sends an image. A fetchable image URL is resolved to a data URL
// before dispatch.
func (b *Broker) SendImage(ctx context.Context, apiKey string, payload protocol.ImagePayload) (*SendResult, error) {
	if err := protocol.ValidateImagePayload(payload); err != nil {
		return nil, NewSendError(CodeValidationError, "%v", err)
	}

	dataURL := payload.ImageDataURL
	if dataURL == "" {
		resolved, err := b.resolveMediaRef(ctx, apiKey, payload.ImageURL)
		if err != nil {
			return nil, err
		}
		dataURL = resolved
	}

	return b.dispatch(apiKey, protocol.TypeSendImage, func(requestID string) *protocol.CommandEnvelope {
		return protocol.BuildSendImage(requestID, payload.PhoneNumber, dataURL, payload.Caption)
	})
}

// SendVideo sends a video, resolving a fetchable reference when needed
func (b *Broker) SendVideo(ctx context.Context, apiKey string, payload protocol.VideoPayload) (*SendResult, error) {
	if err := protocol.ValidateVideoPayload(payload); err != nil {
		return nil, NewSendError(CodeValidationError, "%v", err)
	}

	dataURL := payload.VideoDataURL
	if dataURL == "" {
		resolved, err := b.resolveMediaRef(ctx, apiKey, payload.VideoURL)
		if err != nil {
			return nil, err
		}
		dataURL = resolved
	}

	return b.dispatch(apiKey, protocol.TypeSendVideo, func(requestID string) *protocol.CommandEnvelope {
		return protocol.BuildSendVideo(requestID, payload.PhoneNumber, dataURL, payload.Caption)
	})
}

// SendDocument sends a document with its file name
func (b *Broker) SendDocument(ctx context.Context, apiKey string, payload protocol.DocumentPayload) (*SendResult, error) {
	if err := protocol.ValidateDocumentPayload(payload); err != nil {
		return nil, NewSendError(CodeValidationError, "%v", err)
	}

	dataURL := payload.DocumentDataURL
	if dataURL == "" {
		resolved, err := b.resolveMediaRef(ctx, apiKey, payload.DocumentURL)
		if err != nil {
			return nil, err
		}
		dataURL = resolved
	}

	return b.dispatch(apiKey, protocol.TypeSendDocument, func(requestID string) *protocol.CommandEnvelope {
		return protocol.BuildSendDocument(requestID, payload.PhoneNumber, dataURL, payload.DocumentName, payload.Caption)
	})
}

// resolveMediaRef runs the external media resolver. Resolution is a
// suspension point: session selection happens afterwards, so a session that
// disappeared while fetching is never used.
func (b *Broker) resolveMediaRef(ctx context.Context, apiKey, mediaURL string) (string, error) {
	if b.resolveMedia == nil {
		return "", NewSendError(CodeValidationError, "media URL resolution is not configured")
	}

	dataURL, err := b.resolveMedia(ctx, mediaURL)
	if err != nil {
		return "", NewSendError(CodeValidationError, "failed to resolve media URL: %v", err)
	}
	return dataURL, nil
}

// dispatch selects a session, registers the pending request and transmits
// the command, then blocks until acknowledgment, timeout or teardown. The
// wait is always bounded by the configured request timeout.
func (b *Broker) dispatch(apiKey, kind string, build func(requestID string) *protocol.CommandEnvelope) (*SendResult, error) {
	session := b.registry.SelectForSending(apiKey)
	if session == nil {
		return nil, NewSendError(CodeNoActiveDevice, "no active extension session for this API key")
	}

	requestID := uuid.NewString()
	envelope := build(requestID)

	data, err := protocol.Serialize(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s command: %w", kind, err)
	}

	if !session.Transport.IsOpen() {
		return nil, NewSendError(CodeConnectionLost, "extension connection is not open")
	}

	done := b.correlator.Register(session.ID, requestID, kind, b.opts.RequestTimeout)

	b.logger.Debug().
		Str("session_id", session.ID).
		Str("request_id", requestID).
		Str("kind", kind).
		Msg("Dispatching command")

	if err := session.Transport.Send(data); err != nil {
		// Disarm immediately rather than letting the timeout fire
		b.correlator.Fail(session.ID, requestID,
			NewSendError(CodeConnectionLost, "failed to send command: %v", err))
	}

	outcome := <-done
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	return &SendResult{
		RequestID: outcome.Result.RequestID,
		Success:   outcome.Result.Success,
		Error:     outcome.Result.Error,
		Timestamp: outcome.Result.Timestamp,
	}, nil
}

// reportError hands a handler fault to the operator hook; faults never tear
// down the broker or other sessions
func (b *Broker) reportError(err error) {
	b.logger.Error().Err(err).Msg("Handler fault")
	if b.opts.OnError != nil {
		b.opts.OnError(err)
	}
}
