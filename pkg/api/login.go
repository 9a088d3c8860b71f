package api

import (
	"errors"
	"net/http"

	"meshnode/pkg/auth"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func (h *handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.auth.CanLogin() {
		http.Error(w, "login not configured", http.StatusNotFound)
		return
	}
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	token, err := h.auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrCredentials):
		h.logger.Debug("login rejected", "username", req.Username)
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	case err != nil:
		h.logger.Error("issue token failed", "error", err)
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}
