package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cognidex/portal-backend/internal/evalapi"
	"github.com/cognidex/portal-backend/internal/middleware"
	"github.com/cognidex/portal-backend/internal/model"
	"github.com/cognidex/portal-backend/internal/response"
	"github.com/cognidex/portal-backend/internal/service"
	"github.com/cognidex/portal-backend/internal/validator"
)

// AuthHandler handles participant authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// GuestLogin godoc
// POST /api/v1/auth/guest
// Registers an anonymous participant and returns a portal token.
func (h *AuthHandler) GuestLogin(c *gin.Context) {
	var req model.GuestLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.authService.GuestLogin(c.Request.Context(), req.Email, req.FullName)
	if err != nil {
		failUpstream(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}

// Login godoc
// POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		var apiErr *evalapi.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		failUpstream(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"token": token})
}

// Signup godoc
// POST /api/v1/auth/signup
// Creates an account and logs it in, so the client lands authenticated.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req model.SignupRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	token, err := h.authService.Signup(c.Request.Context(), evalapi.SignupRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		var apiErr *evalapi.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			response.FailWithFields(c, http.StatusConflict, response.ErrValidation, map[string]string{
				"email": "This email address is already registered.",
			})
			return
		}
		failUpstream(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"token": token})
}

// Logout godoc
// POST /api/v1/auth/logout
// Revokes the upstream credential bound to the portal session.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.RevokeSession(c.Request.Context(), claims.ID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// failUpstream maps an evaluation-service failure to a portal error. A
// structured upstream error passes its status weight through as 502; a
// transport failure is indistinguishable and gets the same treatment.
func failUpstream(c *gin.Context, err error) {
	if errors.Is(err, evalapi.ErrNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	response.Fail(c, http.StatusBadGateway, response.ErrUpstreamUnavailable)
}
