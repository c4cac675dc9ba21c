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
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/broker"
	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/logger"
	"github.com/VictorWeston/whatsapp-ws-extension-gateway/internal/protocol"
)

// APIServer exposes the gateway's REST facade and the websocket endpoint
type APIServer struct {
	broker     *broker.Broker
	keystore   *KeyStore
	jwtService *JWTService
	wsHandler  *WSHandler
	logger     zerolog.Logger
	server     *http.Server
}

// NewAPIServer creates the REST facade
func NewAPIServer(b *broker.Broker, keystore *KeyStore, jwtService *JWTService) *APIServer {
	return &APIServer{
		broker:     b,
		keystore:   keystore,
		jwtService: jwtService,
		wsHandler:  NewWSHandler(b),
		logger:     logger.GetLogger("api"),
	}
}

// Start starts the HTTP server; it blocks until the server shuts down
func (api *APIServer) Start(address string, timeout time.Duration) error {
	router := mux.NewRouter()

	router.Use(api.loggingMiddleware)

	// Extension websocket endpoint
	router.Handle("/ws", api.wsHandler)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()

	// Send operations (authorized by the caller's API key, which also
	// addresses the session bucket)
	apiRouter.HandleFunc("/send/message", api.handleSendMessage).Methods("POST")
	apiRouter.HandleFunc("/send/image", api.handleSendImage).Methods("POST")
	apiRouter.HandleFunc("/send/video", api.handleSendVideo).Methods("POST")
	apiRouter.HandleFunc("/send/document", api.handleSendDocument).Methods("POST")

	// Session inspection for the calling key
	apiRouter.HandleFunc("/sessions", api.handleSessions).Methods("GET")

	// Admin endpoints (JWT protected)
	apiRouter.HandleFunc("/auth/login", api.handleLogin).Methods("POST")
	apiRouter.Handle("/admin/keys", api.jwtService.RequireAuth(http.HandlerFunc(api.handleListKeys))).Methods("GET")
	apiRouter.Handle("/admin/keys", api.jwtService.RequireAuth(http.HandlerFunc(api.handleCreateKey))).Methods("POST")
	apiRouter.Handle("/admin/keys/{key_id}", api.jwtService.RequireAuth(http.HandlerFunc(api.handleRevokeKey))).Methods("DELETE")

	// Health check
	apiRouter.HandleFunc("/health", api.handleHealth).Methods("GET")

	api.server = &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  timeout,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	api.logger.Info().
		Str("address", address).
		Msg("Starting API server")

	return api.server.ListenAndServe()
}

// Stop stops the API server
func (api *APIServer) Stop() error {
	if api.server != nil {
		return api.server.Close()
	}
	return nil
}

func (api *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		api.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// apiKeyFrom authorizes a send/inspect call. The X-API-Key header must hold
// a currently valid key.
func (api *APIServer) apiKeyFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	apiKey := r.Header.Get("X-API-Key")
	if apiKey == "" {
		api.writeError(w, http.StatusUnauthorized, "MISSING_API_KEY", "X-API-Key header required")
		return "", false
	}

	valid, err := api.keystore.ValidateKey(r.Context(), apiKey)
	if err != nil {
		api.logger.Error().Err(err).Msg("API key validation error")
		api.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "key validation failed")
		return "", false
	}
	if !valid {
		api.writeError(w, http.StatusUnauthorized, broker.CodeAuthenticationFailed, "invalid API key")
		return "", false
	}

	return apiKey, true
}

func (api *APIServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := api.apiKeyFrom(w, r)
	if !ok {
		return
	}

	var payload protocol.MessagePayload
	if !api.decodeBody(w, r, &payload) {
		return
	}

	result, err := api.broker.SendMessage(r.Context(), apiKey, payload)
	api.writeSendOutcome(w, result, err)
}

func (api *APIServer) handleSendImage(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := api.apiKeyFrom(w, r)
	if !ok {
		return
	}

	var payload protocol.ImagePayload
	if !api.decodeBody(w, r, &payload) {
		return
	}

	result, err := api.broker.SendImage(r.Context(), apiKey, payload)
	api.writeSendOutcome(w, result, err)
}

func (api *APIServer) handleSendVideo(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := api.apiKeyFrom(w, r)
	if !ok {
		return
	}

	var payload protocol.VideoPayload
	if !api.decodeBody(w, r, &payload) {
		return
	}

	result, err := api.broker.SendVideo(r.Context(), apiKey, payload)
	api.writeSendOutcome(w, result, err)
}

func (api *APIServer) handleSendDocument(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := api.apiKeyFrom(w, r)
	if !ok {
		return
	}

	var payload protocol.DocumentPayload
	if !api.decodeBody(w, r, &payload) {
		return
	}

	result, err := api.broker.SendDocument(r.Context(), apiKey, payload)
	api.writeSendOutcome(w, result, err)
}

func (api *APIServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	apiKey, ok := api.apiKeyFrom(w, r)
	if !ok {
		return
	}

	sessions := api.broker.ListActiveSessions(apiKey)
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (api *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, api.broker.Health())
}

func (api *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !api.decodeBody(w, r, &req) {
		return
	}

	valid, err := api.keystore.VerifyAdmin(req.Username, req.Password)
	if err != nil {
		api.logger.Error().Err(err).Msg("Admin verification error")
		api.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "login failed")
		return
	}
	if !valid {
		api.writeError(w, http.StatusUnauthorized, broker.CodeAuthenticationFailed, "invalid credentials")
		return
	}

	token, err := api.jwtService.GenerateToken(req.Username)
	if err != nil {
		api.logger.Error().Err(err).Msg("Token generation failed")
		api.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "login failed")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (api *APIServer) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := api.keystore.ListKeys()
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to list keys")
		api.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list keys")
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]interface{}{"keys": keys})
}

func (api *APIServer) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label string `json:"label"`
	}
	if !api.decodeBody(w, r, &req) {
		return
	}

	apiKey, err := api.keystore.CreateKey(req.Label)
	if err != nil {
		api.logger.Error().Err(err).Msg("Failed to create key")
		api.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to create key")
		return
	}

	// The full key is shown exactly once
	api.writeJSON(w, http.StatusCreated, map[string]string{"apiKey": apiKey})
}

func (api *APIServer) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	keyID := mux.Vars(r)["key_id"]

	if err := api.keystore.RevokeKey(keyID); err != nil {
		api.writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", err.Error())
		return
	}

	api.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (api *APIServer) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		api.writeError(w, http.StatusBadRequest, broker.CodeValidationError, "invalid JSON body")
		return false
	}
	return true
}

// writeSendOutcome maps broker error codes onto HTTP statuses so callers
// can branch on the code
func (api *APIServer) writeSendOutcome(w http.ResponseWriter, result *broker.SendResult, err error) {
	if err == nil {
		api.writeJSON(w, http.StatusOK, result)
		return
	}

	code := broker.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case broker.CodeValidationError:
		status = http.StatusBadRequest
	case broker.CodeNoActiveDevice:
		status = http.StatusServiceUnavailable
	case broker.CodeRequestTimeout:
		status = http.StatusGatewayTimeout
	case broker.CodeConnectionLost:
		status = http.StatusBadGateway
	}
	if code == "" {
		code = "INTERNAL_ERROR"
	}

	api.writeError(w, status, code, err.Error())
}

func (api *APIServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (api *APIServer) writeError(w http.ResponseWriter, status int, code, message string) {
	api.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
