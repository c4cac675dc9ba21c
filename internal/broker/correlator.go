package broker

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/protocol"
)

// Outcome is delivered exactly once on the completion channel of a pending
// request: either the extension's acknowledgment or a typed failure.
type Outcome struct {
	Result *protocol.ResultMessage
	Err    *SendError
}

// pendingRequest is one in-flight outbound command awaiting acknowledgment
type pendingRequest struct {
	requestID string
	kind      string
	done      chan Outcome
	timer     *time.Timer
	createdAt time.Time
}

// Correlator tracks in-flight outbound commands per session and guarantees
// that every request id resolves at most once. The presence of an entry in
// the table is the single authoritative "still pending" check: whichever of
// acknowledgment, timeout or session teardown removes the entry first wins,
// and the losers are no-ops.
type Correlator struct {
	pending map[string]map[string]*pendingRequest // session id -> request id -> entry
	logger  zerolog.Logger
	mutex   sync.Mutex
}

// NewCorrelator creates an empty correlation table
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]map[string]*pendingRequest),
		logger:  logger.GetLogger("correlator"),
	}
}

// Register stores a pending entry and arms its timeout. The returned channel
// receives exactly one Outcome.
func (c *Correlator) Register(sessionID, requestID, kind string, timeout time.Duration) <-chan Outcome {
	entry := &pendingRequest{
		requestID: requestID,
		kind:      kind,
		done:      make(chan Outcome, 1),
		createdAt: time.Now(),
	}

	c.mutex.Lock()
	table, exists := c.pending[sessionID]
	if !exists {
		table = make(map[string]*pendingRequest)
		c.pending[sessionID] = table
	}
	table[requestID] = entry

	entry.timer = time.AfterFunc(timeout, func() {
		c.Fail(sessionID, requestID,
			NewSendError(CodeRequestTimeout, "request %s timed out", requestID))
	})
	c.mutex.Unlock()

	c.logger.Debug().
		Str("session_id", sessionID).
		Str("request_id", requestID).
		Str("kind", kind).
		Dur("timeout", timeout).
		Msg("Pending request registered")

	return entry.done
}

// Resolve completes a pending request with the extension's acknowledgment.
// Returns false without side effects when the entry is gone: already
// acknowledged, already timed out, or the session was destroyed.
func (c *Correlator) Resolve(sessionID, requestID string, result *protocol.ResultMessage) bool {
	entry := c.remove(sessionID, requestID)
	if entry == nil {
		return false
	}

	c.logger.Debug().
		Str("session_id", sessionID).
		Str("request_id", requestID).
		Bool("success", result.Success).
		Dur("latency", time.Since(entry.createdAt)).
		Msg("Pending request resolved")

	entry.done <- Outcome{Result: result}
	return true
}

// Fail completes a pending request with a typed failure. Same no-op
// guarantee as Resolve when the entry is already gone.
func (c *Correlator) Fail(sessionID, requestID string, sendErr *SendError) bool {
	entry := c.remove(sessionID, requestID)
	if entry == nil {
		return false
	}

	c.logger.Debug().
		Str("session_id", sessionID).
		Str("request_id", requestID).
		Str("code", sendErr.Code).
		Msg("Pending request failed")

	entry.done <- Outcome{Err: sendErr}
	return true
}

// FailSession fails every pending request a session still owns and clears
// its table, so no timer ever fires against a destroyed session's entries.
func (c *Correlator) FailSession(sessionID string, sendErr *SendError) {
	c.mutex.Lock()
	table := c.pending[sessionID]
	delete(c.pending, sessionID)
	c.mutex.Unlock()

	if len(table) == 0 {
		return
	}

	c.logger.Info().
		Str("session_id", sessionID).
		Int("pending_count", len(table)).
		Str("code", sendErr.Code).
		Msg("Failing all pending requests for session")

	for _, entry := range table {
		entry.timer.Stop()
		entry.done <- Outcome{Err: sendErr}
	}
}

// PendingCount returns how many requests a session has in flight
func (c *Correlator) PendingCount(sessionID string) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.pending[sessionID])
}

// remove detaches an entry under the lock and disarms its timer. Returning
// nil means someone else already resolved this request id.
func (c *Correlator) remove(sessionID, requestID string) *pendingRequest {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	table, exists := c.pending[sessionID]
	if !exists {
		return nil
	}
	entry, exists := table[requestID]
	if !exists {
		return nil
	}

	entry.timer.Stop()
	delete(table, requestID)
	if len(table) == 0 {
		delete(c.pending, sessionID)
	}
	return entry
}
