package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/portside/portside/internal/auth"
	"github.com/portside/portside/internal/store"
	"github.com/portside/portside/models"
)

// LoginRequest represents a login request
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents a successful login response
type LoginResponse struct {
	User        *UserResponse `json:"user"`
	AccessToken string        `json:"access_token"`
	ExpiresAt   time.Time     `json:"expires_at"`
	TokenType   string        `json:"token_type"`
}

// UserResponse represents user data returned to clients (without
// sensitive fields)
type UserResponse struct {
	ID       string        `json:"id"`
	Username string        `json:"username"`
	Roles    []models.Role `json:"roles"`
	Enabled  bool          `json:"enabled"`
}

func userResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:       user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		Enabled:  user.Enabled,
	}
}

// login handles POST /api/v1/auth/login
func (s *Server) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	user, err := s.store.GetUserByUsername(req.Username)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}

	if !user.Enabled {
		return echo.NewHTTPError(http.StatusUnauthorized, "user account is disabled")
	}

	if err := auth.ComparePassword(req.Password, user.PasswordHash); err != nil {
		s.audit.Record(user.ID, "auth:login_failed", req.Username)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}

	token, err := s.jwtService.GenerateToken(user)
	if err != nil {
		return InternalError("Failed to generate token", err.Error())
	}

	s.audit.Record(user.ID, "auth:login", req.Username)

	return c.JSON(http.StatusOK, LoginResponse{
		User:        userResponse(user),
		AccessToken: token,
		ExpiresAt:   time.Now().Add(s.config.Security.JWTExpiration),
		TokenType:   "Bearer",
	})
}

// me handles GET /api/v1/auth/me
func (s *Server) me(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	user, err := s.store.GetUserByUsername(cl.Username)
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return NotFoundError("User", cl.Username)
		}
		return InternalError("Failed to load user", err.Error())
	}

	return c.JSON(http.StatusOK, userResponse(user))
}

// CreateUserRequest is the body of POST /api/v1/users.
type CreateUserRequest struct {
	Username string        `json:"username" validate:"required,min=3,max=50"`
	Password string        `json:"password" validate:"required,min=8"`
	Roles    []models.Role `json:"roles"`
}

// createUser handles POST /api/v1/users (admin only)
func (s *Server) createUser(c echo.Context) error {
	cl, err := claims(c)
	if err != nil {
		return err
	}

	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestError("Invalid request body", err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	if _, err := s.store.GetUserByUsername(req.Username); err == nil {
		return ConflictError("User already exists", req.Username)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return InternalError("Failed to hash password", err.Error())
	}

	roles := req.Roles
	if len(roles) == 0 {
		roles = []models.Role{models.RoleUser}
	}

	now := time.Now()
	user := &models.User{
		ID:           "user-" + uuid.New().String(),
		Username:     req.Username,
		PasswordHash: hash,
		Roles:        roles,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.SaveUser(user); err != nil {
		return InternalError("Failed to create user", err.Error())
	}

	s.audit.Record(cl.UserID, "user:create", req.Username)

	return c.JSON(http.StatusCreated, userResponse(user))
}
