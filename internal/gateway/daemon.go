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
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/broker"
	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
)

// Daemon composes the key store, session broker and HTTP surface into one
// runnable gateway process
type Daemon struct {
	config   *Config
	keystore *KeyStore
	broker   *broker.Broker
	api      *APIServer
	logger   zerolog.Logger
}

// NewDaemon creates a gateway daemon from a configuration file
func NewDaemon(configPath string) (*Daemon, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(config.Logging.Level)

	keystore, err := NewKeyStore(config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key store: %w", err)
	}

	fetcher := NewMediaFetcher(30 * time.Second)

	opts := config.BrokerOptions()
	daemonLog := logger.GetLogger("daemon")
	opts.OnError = func(err error) {
		daemonLog.Error().Err(err).Msg("Broker handler fault")
	}

	b := broker.New(keystore.ValidateKey, fetcher.Resolve, opts)

	jwtService := NewJWTService(
		config.Security.JWT.SecretKey,
		config.Security.JWT.Issuer,
		config.Security.JWT.ExpiryHours,
	)

	return &Daemon{
		config:   config,
		keystore: keystore,
		broker:   b,
		api:      NewAPIServer(b, keystore, jwtService),
		logger:   logger.GetLogger("daemon"),
	}, nil
}

// Start runs the gateway until SIGINT or SIGTERM
func (d *Daemon) Start() error {
	if err := d.broker.Start(); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	timeout, err := d.config.ServerTimeout()
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- d.api.Start(d.config.Server.Address, timeout)
	}()

	d.logger.Info().
		Str("address", d.config.Server.Address).
		Msg("Gateway daemon running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		d.logger.Info().
			Str("signal", sig.String()).
			Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.shutdown()
			return fmt.Errorf("API server failed: %w", err)
		}
	}

	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	if err := d.api.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := d.broker.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Error stopping broker")
	}
	if err := d.keystore.Close(); err != nil {
		d.logger.Error().Err(err).Msg("Error closing key store")
	}

	d.logger.Info().Msg("Gateway daemon stopped")
}

// Broker exposes the running broker, mainly for tests
func (d *Daemon) Broker() *broker.Broker {
	return d.broker
}
