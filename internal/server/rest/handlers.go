package rest

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
	"github.com/dmitrijs2005/gatekeeper/internal/server/services"
)

type loginRequest struct {
	UserName string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
}

type registerRequest struct {
	Name     string `json:"name"`
	UserName string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func newTokenResponse(p *services.TokenPair) tokenResponse {
	expiresIn := int64(time.Until(p.AccessTokenExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return tokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
	}
}

func badRequest(msg string) error {
	return fmt.Errorf("%w: %s", common.ErrorValidation, msg)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(r.Context(), s.logger, w, badRequest("invalid request body"))
		return
	}
	if req.UserName == "" || req.Password == "" {
		writeError(r.Context(), s.logger, w, badRequest("username and password are required"))
		return
	}

	pair, err := s.sessions.Login(r.Context(), req.UserName, req.Password)
	if err != nil {
		writeError(r.Context(), s.logger, w, err)
		return
	}
	writeData(w, http.StatusOK, "logged in", newTokenResponse(pair))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(r.Context(), s.logger, w, badRequest("invalid request body"))
		return
	}
	if req.RefreshToken == "" {
		writeError(r.Context(), s.logger, w, badRequest("refresh_token is required"))
		return
	}

	pair, err := s.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(r.Context(), s.logger, w, err)
		return
	}
	writeData(w, http.StatusOK, "token refreshed", newTokenResponse(pair))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(r.Context(), s.logger, w, badRequest("invalid request body"))
		return
	}
	scope, err := services.ParseScope(req.Scope)
	if err != nil {
		writeError(r.Context(), s.logger, w, err)
		return
	}

	subj, _ := services.SubjectFromContext(r.Context())
	if err := s.sessions.LogoutSubject(r.Context(), subj, scope, req.RefreshToken); err != nil {
		writeError(r.Context(), s.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(r.Context(), s.logger, w, badRequest("invalid request body"))
		return
	}

	user, err := s.users.Register(r.Context(), services.RegisterInput{
		Name:     req.Name,
		UserName: req.UserName,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		writeError(r.Context(), s.logger, w, err)
		return
	}
	writeData(w, http.StatusCreated, "user created", user.Serialize())
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	subj, _ := services.SubjectFromContext(r.Context())
	user, err := s.users.GetByID(r.Context(), subj.UserID)
	if err != nil {
		writeError(r.Context(), s.logger, w, err)
		return
	}
	writeData(w, http.StatusOK, "ok", user.Serialize())
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(r.Context(), s.logger, w, badRequest("invalid request body"))
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(r.Context(), s.logger, w, badRequest("current_password and new_password are required"))
		return
	}

	subj, _ := services.SubjectFromContext(r.Context())
	if err := s.users.ChangePassword(r.Context(), subj.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(r.Context(), s.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	var req deleteAccountRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(r.Context(), s.logger, w, badRequest("invalid request body"))
		return
	}
	if req.Password == "" {
		writeError(r.Context(), s.logger, w, badRequest("password is required"))
		return
	}

	subj, _ := services.SubjectFromContext(r.Context())
	if err := s.users.Delete(r.Context(), subj.UserID, req.Password); err != nil {
		writeError(r.Context(), s.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, "ok", map[string]string{"status": "serving"})
}
