// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
)

type loginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := parseJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, user, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info(r.Context(), "login", "username", user.Username)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Username: user.Username, Role: string(user.Role)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := identityFromContext(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       id.UserID,
		"username": id.Username,
		"role":     id.Role,
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sso_enabled": s.opts.OIDC.Enabled,
		"open_signup": s.auth.OpenSignup(),
	})
}

func (s *Server) handleSSOLogin(w http.ResponseWriter, r *http.Request) {
	if !s.opts.OIDC.Enabled {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "sso disabled", Code: codeNotFound})
		return
	}
	state, err := generateState()
	if err != nil {
		writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode, // Lax required for cross-site redirect returns
		MaxAge:   300,
	})
	http.Redirect(w, r, s.opts.OIDC.OAuth2Config.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleSSOCallback(w http.ResponseWriter, r *http.Request) {
	cfg := s.opts.OIDC
	if !cfg.Enabled {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "sso disabled", Code: codeNotFound})
		return
	}

	state, err := r.Cookie("oauth_state")
	if err != nil || r.URL.Query().Get("state") != state.Value {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid state", Code: codeBadRequest})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", MaxAge: -1, Path: "/"})

	token, err := cfg.OAuth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		s.log.Warn(r.Context(), "sso code exchange failed", "error", err)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "failed to exchange token", Code: codeUnauthenticated})
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "no id_token", Code: codeUnauthenticated})
		return
	}

	idToken, err := cfg.Provider.Verifier(&oidc.Config{ClientID: cfg.OAuth2Config.ClientID}).Verify(r.Context(), rawIDToken)
	if err != nil {
		s.log.Warn(r.Context(), "sso id token rejected", "error", err)
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "failed to verify token", Code: codeUnauthenticated})
		return
	}

	var claims struct {
		Email string `json:"email"`
		Sub   string `json:"sub"`
	}
	if err := idToken.Claims(&claims); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "failed to parse claims", Code: codeUnauthenticated})
		return
	}

	username := claims.Email
	if username == "" {
		username = claims.Sub
	}

	bearer, user, err := s.auth.LoginWithOIDC(r.Context(), username)
	if err != nil {
		writeError(w, err)
		return
	}
	s.log.Info(r.Context(), "sso login", "username", user.Username)

	http.Redirect(w, r, cfg.FrontendURL+"#token="+url.QueryEscape(bearer), http.StatusFound)
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
