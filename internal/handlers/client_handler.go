package handlers

import (
	"net/http"
	"time"

	"translation-gateway/configs"
	"translation-gateway/internal/apperrors"
	"translation-gateway/internal/cache"
	"translation-gateway/internal/database"
	"translation-gateway/internal/services"
	"translation-gateway/internal/validation"

	"github.com/gin-gonic/gin"
)

// ClientHandler owns the unauthenticated bootstrap surface: registration,
// credential refresh, site config and health.
type ClientHandler struct {
	authService *services.AuthService
	validator   *validation.Validator
	manager     *cache.Manager
	db          *database.Manager
	cfg         *configs.Config
}

func NewClientHandler(authService *services.AuthService, validator *validation.Validator, manager *cache.Manager, db *database.Manager, cfg *configs.Config) *ClientHandler {
	return &ClientHandler{
		authService: authService,
		validator:   validator,
		manager:     manager,
		db:          db,
		cfg:         cfg,
	}
}

// Register handles the installation bootstrap
// @Summary Register a new installation
// @Description Issues a fresh shared key and refresh credential for a client-supplied installation id
// @Tags installations
// @Accept json
// @Produce json
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} map[string]interface{}
// @Router /installations/register [post]
func (h *ClientHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.Validation("invalid_body", "request body is not valid JSON"))
		return
	}

	if err := h.validator.ValidateInstallID(req.InstallationID); err != nil {
		apperrors.Respond(c, err)
		return
	}

	result, err := h.authService.Register(c.Request.Context(), req.InstallationID, req.ClientVersion, req.Platform)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, RegisterResponse{
		Token:        result.Token,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

// Refresh re-issues a credential for a valid refresh token.
func (h *ClientHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.Validation("invalid_body", "request body is not valid JSON"))
		return
	}

	result, err := h.authService.Refresh(c.Request.Context(), req.RefreshToken, req.ClientVersion, req.Platform)
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, RegisterResponse{
		Token:        result.Token,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
	})
}

// GetConfig returns site-processing configuration for the client
// @Summary Get processing configuration
// @Tags config
// @Produce json
// @Success 200 {object} SiteConfigResponse
// @Router /config [get]
func (h *ClientHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, SiteConfigResponse{
		SupportedLanguages: h.cfg.SupportedLanguages,
		MaxWordsPerRequest: validation.MaxWords,
		MinWordLength:      validation.MinWordLen,
		MaxWordLength:      validation.MaxWordLen,
		MaxBodyBytes:       h.cfg.MaxBodyBytes,
		SkipSelectors: []string{
			"script", "style", "noscript", "code", "pre",
			"textarea", "input", "[contenteditable]",
		},
	})
}

// Health reports liveness plus dependency status.
func (h *ClientHandler) Health(c *gin.Context) {
	dbStatus := "connected"
	if err := h.db.Ping(); err != nil {
		dbStatus = "unavailable"
	}
	redisStatus := "connected"
	if !h.manager.IsAvailable() {
		redisStatus = "local_cache_only"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"services": map[string]string{
			"database": dbStatus,
			"redis":    redisStatus,
		},
	})
}

// Request/Response structures
type RegisterRequest struct {
	InstallationID string `json:"installationId" binding:"required"`
	ClientVersion  string `json:"clientVersion"`
	Platform       string `json:"platform"`
}

type RegisterResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type RefreshRequest struct {
	RefreshToken  string `json:"refreshToken" binding:"required"`
	ClientVersion string `json:"clientVersion"`
	Platform      string `json:"platform"`
}

type SiteConfigResponse struct {
	SupportedLanguages []string `json:"supportedLanguages"`
	MaxWordsPerRequest int      `json:"maxWordsPerRequest"`
	MinWordLength      int      `json:"minWordLength"`
	MaxWordLength      int      `json:"maxWordLength"`
	MaxBodyBytes       int64    `json:"maxBodyBytes"`
	SkipSelectors      []string `json:"skipSelectors"`
}
