/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package rest serves the observability API: the registry's view of all
// drones, guarded by bearer tokens.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matterminers/tardis/pkg/registry"
	"github.com/matterminers/tardis/pkg/rest/security"
	"github.com/matterminers/tardis/pkg/utils/log"
)

var droneUUIDPattern = regexp.MustCompile(`^\S+-[A-Fa-f0-9]{10}$`)

type Server struct {
	registry registry.Registry
	security *security.Provider
	server   *http.Server
}

func NewServer(address string, reg registry.Registry, provider *security.Provider) *Server {
	s := &Server{
		registry: reg,
		security: provider,
	}
	mux := http.NewServeMux()
	// Both resource endpoints accept any valid token regardless of its
	// scopes.
	mux.Handle("GET /resources/{$}", s.authorized(nil, s.getResources))
	mux.Handle("GET /resources/{drone_uuid}/state", s.authorized(nil, s.getResourceState))
	mux.Handle("GET /metrics", promhttp.Handler())
	s.server = &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenAndServe blocks until the context is cancelled, then shuts the
// server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	log.FromContext(ctx).Info("rest service listening", "address", s.server.Addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// authorized validates the bearer token against the required scopes before
// invoking the handler. Auth failures become 401 with the matching
// WWW-Authenticate challenge; anything else is a 500.
func (s *Server) authorized(requiredScopes []string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, security.NewCredentialsError(requiredScopes))
			return
		}
		if _, err := s.security.CheckAuthorization(requiredScopes, token); err != nil {
			unauthorizedErr := &security.UnauthorizedError{}
			if errors.As(err, &unauthorizedErr) {
				writeUnauthorized(w, unauthorizedErr)
				return
			}
			log.FromContext(r.Context()).Error(err, "authorization check failed")
			writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}
		next(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}

func (s *Server) getResources(w http.ResponseWriter, r *http.Request) {
	resources, err := s.registry.GetResources(r.Context())
	if err != nil {
		log.FromContext(r.Context()).Error(err, "listing resources failed")
		writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

func (s *Server) getResourceState(w http.ResponseWriter, r *http.Request) {
	droneUUID := r.PathValue("drone_uuid")
	if !droneUUIDPattern.MatchString(droneUUID) {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid drone_uuid")
		return
	}
	state, ok, err := s.registry.GetResourceState(r.Context(), droneUUID)
	if err != nil {
		log.FromContext(r.Context()).Error(err, "resolving resource state failed", "drone", droneUUID)
		writeDetail(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !ok {
		writeDetail(w, http.StatusNotFound, "Drone not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"drone_uuid": droneUUID,
		"state":      state,
	})
}

func writeUnauthorized(w http.ResponseWriter, err *security.UnauthorizedError) {
	w.Header().Set("WWW-Authenticate", err.Challenge)
	writeDetail(w, http.StatusUnauthorized, err.Detail)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Best effort; the status line is already out.
	_ = json.NewEncoder(w).Encode(body)
}
