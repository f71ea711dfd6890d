package httpapi

import (
	"net/http"
	"time"

	"orgmesh.org/internal/identity"
)

type loginRequest struct {
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	Password       string `json:"password"`
}

type sessionResponse struct {
	AccessToken        string    `json:"access_token"`
	RefreshToken       string    `json:"refresh_token"`
	AccessExpiresAt    time.Time `json:"access_expires_at"`
	RefreshExpiresAt   time.Time `json:"refresh_expires_at"`
	MustChangePassword bool      `json:"must_change_password"`
	Roles              []string  `json:"roles"`
	Permissions        []string  `json:"permissions"`
}

func sessionPayload(s identity.Session, p identity.Principal) sessionResponse {
	return sessionResponse{
		AccessToken:        s.AccessToken,
		RefreshToken:       s.RefreshToken,
		AccessExpiresAt:    s.AccessExpiresAt,
		RefreshExpiresAt:   s.RefreshExpiresAt,
		MustChangePassword: p.User.MustChangePassword,
		Roles:              p.Roles,
		Permissions:        p.SortedPermissions(),
	}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	orgID, err := requiredField(req.OrganizationID, "organization_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.identity.Login(r.Context(), orgID, req.Email, req.Password)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	switch res.Outcome {
	case identity.AttemptSuccess:
		writeJSON(w, http.StatusOK, sessionPayload(res.Session, res.Principal))
	case identity.AttemptLockedOut:
		writeError(w, r, http.StatusLocked, "account temporarily locked")
	case identity.AttemptAccountNotActive:
		writeError(w, r, http.StatusForbidden, "account is not active")
	default:
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, err := requiredField(req.RefreshToken, "refresh_token")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, principal, err := a.identity.RefreshSession(r.Context(), token)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session, principal))
}

// handleLogout revokes the presented refresh credential. Revocation is
// idempotent, so an unknown or already-revoked token still answers 204.
func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	token, err := requiredField(req.RefreshToken, "refresh_token")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.identity.RevokeSession(r.Context(), token, "logout"); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req passwordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "new_password is required")
		return
	}

	if err := a.identity.ChangePassword(r.Context(), claims.Subject, req.CurrentPassword, req.NewPassword); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordForgotRequest struct {
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
}

// handlePasswordForgot starts a reset. The answer is the same whether the
// email exists or not; the token travels out of band.
func (a *API) handlePasswordForgot(w http.ResponseWriter, r *http.Request) {
	var req passwordForgotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	orgID, err := requiredField(req.OrganizationID, "organization_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := a.identity.BeginPasswordReset(r.Context(), orgID, req.Email); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

type passwordResetRequest struct {
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	Token          string `json:"token"`
	NewPassword    string `json:"new_password"`
}

func (a *API) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	orgID, err := requiredField(req.OrganizationID, "organization_id")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.NewPassword == "" {
		writeError(w, r, http.StatusBadRequest, "new_password is required")
		return
	}

	if err := a.identity.CompletePasswordReset(r.Context(), orgID, req.Email, req.Token, req.NewPassword); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
