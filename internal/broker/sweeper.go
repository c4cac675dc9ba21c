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
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
)

// Sweeper periodically evicts sessions whose extension stopped heartbeating
type Sweeper struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
	onEvict   func(*Session)
	logger    zerolog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	mutex     sync.Mutex
}

// NewSweeper creates a liveness sweeper. The eviction hook runs before the
// session is unregistered so the owner can close the underlying transport.
func NewSweeper(registry *Registry, interval, threshold time.Duration, onEvict func(*Session)) *Sweeper {
	return &Sweeper{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
		onEvict:   onEvict,
		logger:    logger.GetLogger("sweeper"),
	}
}

// Start begins the periodic sweep; starting twice is a no-op
func (s *Sweeper) Start() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	go s.loop(s.ctx)

	s.logger.Info().
		Dur("interval", s.interval).
		Dur("stale_threshold", s.threshold).
		Msg("Liveness sweeper started")
}

// Stop halts the sweep; stopping when not running is a no-op
func (s *Sweeper) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.running = false

	s.logger.Info().Msg("Liveness sweeper stopped")
}

// IsRunning reports whether the sweeper is active
func (s *Sweeper) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep evicts every session whose heartbeat aged past the threshold. The
// stale list is snapshotted before any eviction mutates the registry.
func (s *Sweeper) Sweep() {
	stale := s.registry.StaleSessions(s.threshold)

	for _, session := range stale {
		s.logger.Warn().
			Str("session_id", session.ID).
			Time("last_heartbeat", session.LastHeartbeatAt).
			Msg("Evicting stale session")

		if s.onEvict != nil {
			s.onEvict(session)
		}
		s.registry.Unregister(session.ID)
	}
}
