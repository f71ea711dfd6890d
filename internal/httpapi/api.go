// Package httpapi is the HTTP edge: routing, authentication, and the JSON
// request/response shapes. Domain rules live in internal/identity and
// internal/hierarchy; handlers only translate between wire and core.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"orgmesh.org/internal/hierarchy"
	"orgmesh.org/internal/identity"
	"orgmesh.org/internal/obs"
)

// ReadyProbe pings the backing store for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	identity   *identity.Service
	tree       *hierarchy.Engine
}

func New(rp ReadyProbe, version string, svc *identity.Service, tree *hierarchy.Engine) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		identity:   svc,
		tree:       tree,
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	// auth & session lifecycle; login is throttled per client IP
	a.mux.Handle("POST /v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), 10, 5))
	a.mux.HandleFunc("POST /v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("POST /v1/auth/password/change", a.handlePasswordChange)
	a.mux.HandleFunc("POST /v1/auth/password/forgot", a.handlePasswordForgot)
	a.mux.HandleFunc("POST /v1/auth/password/reset", a.handlePasswordReset)

	// user administration
	a.mux.HandleFunc("POST /v1/users", a.handleCreateUser)
	a.mux.HandleFunc("GET /v1/users/{id}/permissions", a.handleUserPermissions)
	a.mux.HandleFunc("POST /v1/users/{id}/status", a.handleUserStatus)
	a.mux.HandleFunc("POST /v1/users/{id}/unlock", a.handleUserUnlock)
	a.mux.HandleFunc("POST /v1/users/{id}/roles", a.handleAssignRoles)
	a.mux.HandleFunc("POST /v1/users/{id}/sessions/revoke", a.handleRevokeSessions)

	// role administration
	a.mux.HandleFunc("POST /v1/roles", a.handleCreateRole)
	a.mux.HandleFunc("PUT /v1/roles/{id}", a.handleUpdateRole)
	a.mux.HandleFunc("POST /v1/roles/{id}/deactivate", a.handleDeactivateRole)
	a.mux.HandleFunc("PUT /v1/roles/{id}/permissions", a.handleRolePermissions)

	// sub-organization tree
	a.mux.HandleFunc("POST /v1/suborgs", a.handleCreateSubOrg)
	a.mux.HandleFunc("GET /v1/suborgs/{id}", a.handleGetSubOrg)
	a.mux.HandleFunc("GET /v1/suborgs/{id}/descendants", a.handleDescendants)
	a.mux.HandleFunc("POST /v1/suborgs/{id}/reparent", a.handleReparent)
	a.mux.HandleFunc("POST /v1/suborgs/{id}/activate", a.handleActivateSubOrg)
	a.mux.HandleFunc("POST /v1/suborgs/{id}/deactivate", a.handleDeactivateSubOrg)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = Logging(h)
	h = RequestID(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "orgmesh-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "orgmesh-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrLockedOut):
		writeError(w, r, http.StatusLocked, err.Error())
	case errors.Is(err, identity.ErrAccountNotActive):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrDomainRule):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func handleHierarchyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, hierarchy.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, hierarchy.ErrDomainRule):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func requiredField(v, name string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", errors.New(name + " is required")
	}
	return v, nil
}
