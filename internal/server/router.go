package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cantierecloud/backoffice/internal/gate"
	"github.com/cantierecloud/backoffice/internal/identity"
	"github.com/cantierecloud/backoffice/internal/profiles"
	"github.com/cantierecloud/backoffice/internal/settings"
	"github.com/cantierecloud/backoffice/internal/store"
)

const identityIDContextKey = "backoffice_identity_id"

var (
	errMissingGate     = errors.New("session gate dependency required")
	errMissingTokens   = errors.New("token issuer dependency required")
	errMissingProvider = errors.New("identity provider dependency required")
	errMissingSettings = errors.New("settings service dependency required")
)

// SessionTokens issues and validates the bearer tokens used by the dashboard.
type SessionTokens interface {
	IssueSessionToken(identityID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the core services.
type Dependencies struct {
	Gate     *gate.Gate
	Provider identity.Provider
	Settings *settings.Service
	Tokens   SessionTokens
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin router for the backoffice API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Gate == nil {
		return nil, errMissingGate
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.Provider == nil {
		return nil, errMissingProvider
	}
	if deps.Settings == nil {
		return nil, errMissingSettings
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		gate:     deps.Gate,
		provider: deps.Provider,
		settings: deps.Settings,
		tokens:   deps.Tokens,
		logger:   logger,
	}

	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/logout", handler.handleLogout)
	protected.GET("/auth/events", handler.handleSessionEvents)
	protected.GET("/me", handler.handleGetProfile)
	protected.PUT("/me", handler.handleUpdateProfile)
	protected.POST("/me/password", handler.handleChangePassword)
	protected.GET("/me/visibility", handler.handleVisibility)

	// Privileged routes. The chief check lives here, in the UI-facing layer;
	// the gate itself does not re-verify the caller's role.
	admin := protected.Group("/")
	admin.Use(handler.requireChief)
	admin.GET("/users", handler.handleListUsers)
	admin.POST("/users", handler.handleCreateUser)
	admin.PUT("/users/:id", handler.handleAdminUpdateUser)
	admin.DELETE("/users/:id", handler.handleDeleteUser)
	admin.GET("/settings", handler.handleGetSettings)
	admin.PUT("/settings", handler.handleSaveSettings)

	return router, nil
}

type httpHandler struct {
	gate     *gate.Gate
	provider identity.Provider
	settings *settings.Service
	tokens   SessionTokens
	logger   *zap.Logger
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponsePayload struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   int64           `json:"expires_in"`
	TokenType   string          `json:"token_type"`
	Profile     profilePayload  `json:"profile"`
	Visibility  gate.Visibility `json:"visibility"`
}

type profilePayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	RoleDisplay string `json:"role_display"`
	BadgeClass  string `json:"badge_class"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	LastLogin   string `json:"last_login,omitempty"`
	CreatedBy   string `json:"created_by,omitempty"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.Email) == "" || request.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	profile, err := h.gate.SignIn(c.Request.Context(), request.Email, request.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			return
		}
		h.logger.Error("sign-in failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
		return
	}

	token, expiresIn, err := h.tokens.IssueSessionToken(profile.ID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, loginResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Profile:     encodeProfile(profile),
		Visibility:  gate.VisibilityFor(profile.Role),
	})
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.gate.SignOut(c.Request.Context()); err != nil {
		h.logger.Warn("sign-out failed", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetProfile(c *gin.Context) {
	profile, err := h.gate.GetProfile(c.Request.Context(), c.GetString(identityIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, encodeProfile(profile))
}

type updateProfilePayload struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request updateProfilePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	callerID := c.GetString(identityIDContextKey)
	patch := profiles.Patch{Name: request.Name, Phone: request.Phone, Address: request.Address}

	profile, err := h.gate.UpdateProfile(c.Request.Context(), callerID, patch, callerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, encodeProfile(profile))
}

type changePasswordPayload struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *httpHandler) handleChangePassword(c *gin.Context) {
	var request changePasswordPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		request.CurrentPassword == "" || request.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	callerID := c.GetString(identityIDContextKey)
	err := h.gate.ChangeCredential(c.Request.Context(), callerID, request.CurrentPassword, request.NewPassword)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleVisibility(c *gin.Context) {
	profile, err := h.gate.GetProfile(c.Request.Context(), c.GetString(identityIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gate.VisibilityFor(profile.Role))
}

func (h *httpHandler) handleListUsers(c *gin.Context) {
	listed, err := h.gate.ListProfiles(c.Request.Context(), true)
	if err != nil {
		h.respondError(c, err)
		return
	}
	payload := make([]profilePayload, 0, len(listed))
	for _, profile := range listed {
		payload = append(payload, encodeProfile(profile))
	}
	c.JSON(http.StatusOK, gin.H{"users": payload})
}

type createUserPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
}

func (h *httpHandler) handleCreateUser(c *gin.Context) {
	var request createUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	role := profiles.RoleNone
	if request.Role != "" {
		parsed, ok := profiles.ParseRole(request.Role)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_role"})
			return
		}
		role = parsed
	}

	profile, err := h.gate.CreateUser(c.Request.Context(), gate.CreateUserInput{
		Email:   request.Email,
		Secret:  request.Password,
		Name:    request.Name,
		Role:    role,
		Phone:   request.Phone,
		Address: request.Address,
	}, c.GetString(identityIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, encodeProfile(profile))
}

type adminUpdateUserPayload struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
	Role    *string `json:"role"`
	Status  *string `json:"status"`
}

func (h *httpHandler) handleAdminUpdateUser(c *gin.Context) {
	var request adminUpdateUserPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	patch := profiles.Patch{Name: request.Name, Phone: request.Phone, Address: request.Address}
	if request.Role != nil {
		role := profiles.Role(*request.Role)
		patch.Role = &role
	}
	if request.Status != nil {
		status := profiles.Status(*request.Status)
		patch.Status = &status
	}

	profile, err := h.gate.UpdateProfile(c.Request.Context(), c.Param("id"), patch, c.GetString(identityIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, encodeProfile(profile))
}

func (h *httpHandler) handleDeleteUser(c *gin.Context) {
	if err := h.gate.DeleteProfile(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	loaded, err := h.settings.Load(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, loaded)
}

func (h *httpHandler) handleSaveSettings(c *gin.Context) {
	var request settings.Settings
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.settings.Save(c.Request.Context(), request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) requireChief(c *gin.Context) {
	profile, err := h.gate.GetProfile(c.Request.Context(), c.GetString(identityIDContextKey))
	if err != nil {
		h.respondError(c, err)
		c.Abort()
		return
	}
	if !profile.Role.IsChief() {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.Next()
}

// respondError maps the core error taxonomy onto stable codes the dashboard
// turns into alerts. Nothing here is fatal; every path returns to the UI.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gate.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed"})
	case errors.Is(err, identity.ErrWeakCredential):
		c.JSON(http.StatusBadRequest, gin.H{"error": "weak_credential"})
	case errors.Is(err, identity.ErrInvalidCredential):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credential"})
	case errors.Is(err, identity.ErrEmailInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "email_in_use"})
	case errors.Is(err, identity.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_email"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	}
}

func encodeProfile(profile profiles.Profile) profilePayload {
	return profilePayload{
		ID:          profile.ID,
		Name:        profile.Name,
		Email:       profile.Email,
		Role:        string(profile.Role),
		RoleDisplay: profile.Role.DisplayName(),
		BadgeClass:  profile.Role.BadgeClass(),
		Phone:       profile.Phone,
		Address:     profile.Address,
		Status:      string(profile.Status),
		CreatedAt:   encodeTimestamp(profile.CreatedAt),
		UpdatedAt:   encodeTimestamp(profile.UpdatedAt),
		LastLogin:   encodeTimestamp(profile.LastLogin),
		CreatedBy:   profile.CreatedBy,
		UpdatedBy:   profile.UpdatedBy,
	}
}
