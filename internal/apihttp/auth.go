package apihttp

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores input past 72 bytes, longer passwords are refused outright.
const maxPasswordBytes = 72

type loginRequest struct {
	Password string `json:"password"`
}

// HandleLogin checks the admin password. A success clears the caller's auth quota.
func (api *API) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if len(api.adminHash) == 0 {
		api.writeUnavailable(ctx, w, "login")
		return
	}

	var req loginRequest
	if err := api.decodeJSON(w, r, &req); err != nil {
		api.metrics.IncLoginAttempt("invalid")
		api.writeDecodeError(ctx, w, "login", err)
		return
	}

	id := clientID(r)
	if req.Password == "" || len(req.Password) > maxPasswordBytes ||
		bcrypt.CompareHashAndPassword(api.adminHash, []byte(req.Password)) != nil {
		api.metrics.IncLoginAttempt("failure")
		api.logger.Warn(ctx, "admin login failed", "client.address", id)
		api.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	api.limits.Auth().Reset(id)
	api.metrics.IncLoginAttempt("success")
	api.logger.Info(ctx, "admin login succeeded", "client.address", id)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}
