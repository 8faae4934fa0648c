/*
Copyright 2023 Gravitational, Inc.

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

// Package web implements the request gateway: the HTTP control API and
// the websocket stream channel.
package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"

	webterm "github.com/zmb3/webterm"
	"github.com/zmb3/webterm/lib/assist"
	"github.com/zmb3/webterm/lib/auth"
	"github.com/zmb3/webterm/lib/httplib"
	"github.com/zmb3/webterm/lib/limiter"
	"github.com/zmb3/webterm/lib/services"
	"github.com/zmb3/webterm/lib/sshpool"
)

// Config holds the gateway dependencies.
type Config struct {
	// Auth is the identity and token service.
	Auth *auth.Server
	// Profiles is the profile store.
	Profiles services.Profiles
	// Sessions is the terminal session store.
	Sessions services.Sessions
	// Queries records assistant exchanges.
	Queries services.AssistQueries
	// Pool is the SSH connection manager.
	Pool *sshpool.Manager
	// Assist is the assistant bridge. Optional.
	Assist *assist.Bridge
	// Limiter rejects over limit requests.
	Limiter *limiter.Limiter
	// CORSOrigin, when set, is the allowed cross origin.
	CORSOrigin string
	// Clock is used for uptime and timestamps.
	Clock clockwork.Clock
	// Log is a component logger.
	Log logrus.FieldLogger
}

// CheckAndSetDefaults validates the values of a *Config.
func (c *Config) CheckAndSetDefaults() error {
	if c.Auth == nil {
		return trace.BadParameter("auth server is required")
	}
	if c.Profiles == nil {
		return trace.BadParameter("profile store is required")
	}
	if c.Sessions == nil {
		return trace.BadParameter("session store is required")
	}
	if c.Queries == nil {
		return trace.BadParameter("query store is required")
	}
	if c.Pool == nil {
		return trace.BadParameter("connection pool is required")
	}
	if c.Limiter == nil {
		return trace.BadParameter("rate limiter is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.WithField(trace.Component, webterm.ComponentWeb)
	}
	return nil
}

// Handler is the front door: admission, token checks, rate limits and
// route dispatch.
type Handler struct {
	Config

	router    *httprouter.Router
	startTime time.Time
}

// NewHandler creates the gateway handler.
func NewHandler(cfg Config) (*Handler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	h := &Handler{
		Config:    cfg,
		router:    httprouter.New(),
		startTime: cfg.Clock.Now(),
	}

	// Authentication endpoints carry the stricter limiter tier on top of
	// the global one.
	h.router.POST("/api/auth/register", h.withAuthRate(h.handleRegister))
	h.router.POST("/api/auth/login", h.withAuthRate(h.handleLogin))
	h.router.GET("/api/auth/verify", h.withAuth(h.handleVerify))
	h.router.PUT("/api/auth/preferences", h.withAuth(h.handleUpdatePreferences))

	h.router.GET("/api/profiles", h.withAuth(h.handleListProfiles))
	h.router.POST("/api/profiles", h.withAuth(h.handleCreateProfile))
	h.router.PUT("/api/profiles/:id", h.withAuth(h.handleUpdateProfile))
	h.router.DELETE("/api/profiles/:id", h.withAuth(h.handleDeleteProfile))

	h.router.GET("/api/sessions", h.withAuth(h.handleListSessions))

	h.router.GET("/api/ws", h.handleWebsocket)
	h.router.GET("/health", h.handleHealth)

	h.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httplib.Error(w, trace.NotFound("route not found"))
	})

	return h, nil
}

// ServeHTTP applies CORS and the global rate limit, then dispatches.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/") {
		if retryAfter, err := h.Limiter.Allow(httplib.SourceAddr(r)); err != nil {
			httplib.RateLimited(w, retryAfter)
			return
		}
	}

	h.router.ServeHTTP(w, r)
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter) {
	origin := h.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

// handlerFunc is a route handler returning a payload for the success
// envelope. Returning nil, nil means the handler wrote its own response.
type handlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (interface{}, error)

// authedHandlerFunc additionally receives the authenticated user.
type authedHandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error)

// writeResult writes the envelope. A nil payload with a nil error means
// the handler already wrote its response.
func writeResult(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		httplib.Error(w, err)
		return
	}
	if data != nil {
		httplib.OK(w, data)
	}
}

// withAuthRate applies the authentication limiter tier.
func (h *Handler) withAuthRate(fn handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if retryAfter, err := h.Limiter.AllowAuth(httplib.SourceAddr(r)); err != nil {
			httplib.RateLimited(w, retryAfter)
			return
		}
		data, err := fn(w, r, p)
		writeResult(w, data, err)
	}
}

// withAuth verifies the bearer token and injects the account.
func (h *Handler) withAuth(fn authedHandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		user, err := h.Auth.VerifyToken(r.Context(), httplib.BearerToken(r))
		if err != nil {
			httplib.Error(w, trace.AccessDenied("unauthorized"))
			return
		}
		data, err := fn(w, r, p, user)
		writeResult(w, data, err)
	}
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	var params auth.RegisterParams
	if err := httplib.ReadJSON(r, &params); err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := h.Auth.Register(r.Context(), params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	httplib.Created(w, resp)
	return nil, nil
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) (interface{}, error) {
	var params auth.LoginParams
	if err := httplib.ReadJSON(r, &params); err != nil {
		return nil, trace.Wrap(err)
	}
	resp, err := h.Auth.Login(r.Context(), params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return resp, nil
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request, _ httprouter.Params, user *services.User) (interface{}, error) {
	return map[string]interface{}{"user": user}, nil
}

func (h *Handler) handleUpdatePreferences(w http.ResponseWriter, r *http.Request, _ httprouter.Params, user *services.User) (interface{}, error) {
	var prefs map[string]interface{}
	if err := httplib.ReadJSON(r, &prefs); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := h.Auth.UpdatePreferences(r.Context(), user.ID, prefs); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handler) handleListProfiles(w http.ResponseWriter, r *http.Request, _ httprouter.Params, user *services.User) (interface{}, error) {
	profiles, err := h.Profiles.ListProfiles(r.Context(), user.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if profiles == nil {
		profiles = []services.Profile{}
	}
	return profiles, nil
}

// createProfileRequest is the create payload: profile fields plus the
// plaintext secrets, which are sealed before they reach the database.
type createProfileRequest struct {
	Profile     profileParams        `json:"profile"`
	Credentials services.Credentials `json:"credentials"`
}

type profileParams struct {
	Name       string              `json:"name"`
	Host       string              `json:"host"`
	Port       int                 `json:"port"`
	Username   string              `json:"username"`
	AuthMethod services.AuthMethod `json:"authMethod"`
}

func (h *Handler) handleCreateProfile(w http.ResponseWriter, r *http.Request, _ httprouter.Params, user *services.User) (interface{}, error) {
	var req createProfileRequest
	if err := httplib.ReadJSON(r, &req); err != nil {
		return nil, trace.Wrap(err)
	}

	profile := &services.Profile{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Name:       req.Profile.Name,
		Host:       req.Profile.Host,
		Port:       req.Profile.Port,
		Username:   req.Profile.Username,
		AuthMethod: req.Profile.AuthMethod,
	}
	created, err := h.Profiles.CreateProfile(r.Context(), profile, &req.Credentials)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Credentials.Scrub()
	httplib.Created(w, created)
	return nil, nil
}

func (h *Handler) handleUpdateProfile(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error) {
	var update services.ProfileUpdate
	if err := httplib.ReadJSON(r, &update); err != nil {
		return nil, trace.Wrap(err)
	}
	updated, err := h.Profiles.UpdateProfile(r.Context(), user.ID, p.ByName("id"), &update)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return updated, nil
}

func (h *Handler) handleDeleteProfile(w http.ResponseWriter, r *http.Request, p httprouter.Params, user *services.User) (interface{}, error) {
	if err := h.Profiles.DeleteProfile(r.Context(), user.ID, p.ByName("id")); err != nil {
		return nil, trace.Wrap(err)
	}
	return map[string]interface{}{"ok": true}, nil
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request, _ httprouter.Params, user *services.User) (interface{}, error) {
	sessions, err := h.Sessions.ListActiveSessions(r.Context(), user.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if sessions == nil {
		sessions = []services.TerminalSession{}
	}
	return sessions, nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	httplib.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    int(h.Clock.Now().Sub(h.startTime) / time.Second),
		"timestamp": h.Clock.Now().UTC().Format(time.RFC3339),
	})
}
