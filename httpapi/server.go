// Package httpapi exposes goIdentity.Service over JSON/HTTP with a chi router.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// Server routes HTTP requests to a Service.
type Server struct {
	svc      *goIdentity.Service
	validate *validator.Validate
	metrics  http.Handler
	logger   *log.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger for internal errors. Defaults to log.Default().
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(svc *goIdentity.Service, opts ...Option) *Server {
	s := &Server{
		svc:      svc,
		validate: validator.New(),
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.ClientInfo)

	auth := middleware.GuardWith(s.svc, s.rejected)
	adminOnly := middleware.RequireRoleWith(s.rejected, goIdentity.RoleAdmin)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", s.handleRegister)
		r.With(auth, adminOnly).Post("/accounts/{id}/verify", s.handleVerifyEmail)
		r.Post("/accounts/verify/request", s.handleRequestVerification)
		r.Post("/accounts/verify/confirm", s.handleConfirmVerification)
		r.With(auth).Post("/accounts/{id}/deactivate", s.handleDeactivate)

		r.Post("/sessions", s.handleLogin)
		r.With(auth).Delete("/sessions/current", s.handleLogout)
		r.With(auth).Delete("/sessions", s.handleLogoutAll)
		r.With(auth).Get("/sessions", s.handleListSessions)
		r.Post("/tokens/refresh", s.handleRefresh)

		r.With(auth).Post("/password/change", s.handleChangePassword)
		r.Post("/password/reset", s.handleRequestReset)
		r.Post("/password/reset/confirm", s.handleConfirmReset)

		r.With(auth).Get("/me", s.handleGetMe)
		r.With(auth).Patch("/me", s.handleUpdateMe)

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth, adminOnly)
			r.Get("/accounts", s.handleListAccounts)
			r.Get("/stats", s.handleStats)
		})
	})

	return r
}

type registerRequest struct {
	Email          string `json:"email" validate:"required"`
	Password       string `json:"password" validate:"required"`
	FirstName      string `json:"first_name" validate:"required"`
	LastName       string `json:"last_name" validate:"required"`
	Phone          string `json:"phone"`
	Role           string `json:"role"`
	LicenseNumber  string `json:"license_number"`
	Specialization string `json:"specialization"`
	ClinicName     string `json:"clinic_name"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

type resetRequest struct {
	Email string `json:"email" validate:"required"`
}

type verificationRequest struct {
	Email string `json:"email" validate:"required"`
}

type verificationConfirmRequest struct {
	Token string `json:"token" validate:"required"`
}

type resetConfirmRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.logger.Printf("goIdentity: health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	var role goIdentity.Role
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := goIdentity.ParseRole(req.Role)
		if err != nil {
			s.writeError(w, err)
			return
		}
		role = parsed
	}
	// Admins are provisioned out of band.
	if role == goIdentity.RoleAdmin {
		s.writeError(w, goIdentity.ErrForbidden)
		return
	}

	acct, err := s.svc.Register(r.Context(), goIdentity.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Role:      role,
		Professional: goIdentity.ProfessionalProfile{
			LicenseNumber:  req.LicenseNumber,
			Specialization: req.Specialization,
			ClinicName:     req.ClinicName,
		},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	acct, err := s.svc.VerifyEmail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// handleRequestVerification mirrors handleRequestReset: 202 for every
// well-formed request, token delivered out of band.
func (s *Server) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := s.svc.RequestEmailVerification(r.Context(), req.Email); err != nil {
		s.logger.Printf("goIdentity: email verification request failed: %v", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationConfirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	acct, err := s.svc.ConfirmEmailVerification(r.Context(), req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AuthFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if caller.Role != goIdentity.RoleAdmin && caller.AccountID != id {
		s.writeError(w, goIdentity.ErrForbidden)
		return
	}
	if err := s.svc.Deactivate(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AuthFromContext(r.Context())
	if err := s.svc.Logout(r.Context(), caller.SessionID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AuthFromContext(r.Context())
	n, err := s.svc.LogoutAll(r.Context(), caller.AccountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AuthFromContext(r.Context())
	sessions, err := s.svc.ListSessions(r.Context(), caller.AccountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := middleware.AuthFromContext(r.Context())
	if err := s.svc.ChangePassword(r.Context(), caller.AccountID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRequestReset answers 202 for every well-formed request. The token is
// delivered by the configured ResetNotifier and never appears in the response.
func (s *Server) handleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, err := s.svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
		s.logger.Printf("goIdentity: password reset request failed: %v", err)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req resetConfirmRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	caller, _ := middleware.AuthFromContext(r.Context())
	acct, err := s.svc.GetAccount(r.Context(), caller.AccountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// handleUpdateMe decodes straight into the ProfileUpdate whitelist, so
// unknown fields such as role or email fail decoding.
func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req goIdentity.ProfileUpdate
	if !s.decode(w, r, &req) {
		return
	}
	caller, _ := middleware.AuthFromContext(r.Context())
	acct, err := s.svc.UpdateProfile(r.Context(), caller.AccountID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parsePage(q.Get("offset"), q.Get("limit"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	filter := goIdentity.AccountFilter{
		Role:          goIdentity.Role(q.Get("role")),
		Status:        goIdentity.AccountStatus(q.Get("status")),
		EmailContains: q.Get("email"),
	}
	accounts, err := s.svc.ListAccounts(r.Context(), filter, page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"accounts": accounts,
		"offset":   page.Offset,
		"limit":    page.Limit,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parsePage(offset, limit string) (goIdentity.Page, error) {
	var page goIdentity.Page
	var err error
	if offset != "" {
		if page.Offset, err = strconv.Atoi(offset); err != nil || page.Offset < 0 {
			return page, fmt.Errorf("%w: offset", goIdentity.ErrInvalidInput)
		}
	}
	if limit != "" {
		if page.Limit, err = strconv.Atoi(limit); err != nil || page.Limit < 0 {
			return page, fmt.Errorf("%w: limit", goIdentity.ErrInvalidInput)
		}
	}
	return page, nil
}

// decode reads a JSON body into out and runs struct validation. It writes
// the error response itself and reports whether the handler may continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed body", goIdentity.ErrInvalidInput))
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			s.writeError(w, &fieldError{fields: fields})
			return false
		}
		s.writeError(w, goIdentity.ErrInvalidInput)
		return false
	}
	return true
}
