package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/caseus-app/caseus-backend/internal/auth"
	"github.com/caseus-app/caseus-backend/internal/cheese"
	"github.com/caseus-app/caseus-backend/internal/chat"
	"github.com/caseus-app/caseus-backend/internal/photos"
	"github.com/caseus-app/caseus-backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "caseus_user_id"

const maxPhotoBytes = 10 << 20

var (
	errMissingVerifier      = errors.New("provider verifier dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingUserService   = errors.New("user service dependency required")
	errMissingCheeseService = errors.New("cheese service dependency required")
	errMissingAlbumService  = errors.New("album service dependency required")
	errMissingChatBackend   = errors.New("chat backend dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type ProviderVerifier interface {
	Verify(ctx context.Context, token string) (auth.ProviderClaims, error)
}

type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, claims auth.ProviderClaims) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type IdentityResolver interface {
	Resolve(claims auth.ProviderClaims) (users.Profile, error)
	DisplayNameFor(userID string) string
}

type Dependencies struct {
	Verifier          ProviderVerifier
	TokenManager      BackendTokenManager
	Users             IdentityResolver
	Cheeses           *cheese.Service
	Albums            *photos.AlbumService
	ChatBackend       chat.Backend
	AuthLimiter       *LimiterStore
	ChatMessageWindow int
	ChatHistoryLimit  int
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Verifier == nil {
		return nil, errMissingVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Users == nil {
		return nil, errMissingUserService
	}
	if deps.Cheeses == nil {
		return nil, errMissingCheeseService
	}
	if deps.Albums == nil {
		return nil, errMissingAlbumService
	}
	if deps.ChatBackend == nil {
		return nil, errMissingChatBackend
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
		verifier:      deps.Verifier,
		tokens:        deps.TokenManager,
		users:         deps.Users,
		cheeses:       deps.Cheeses,
		albums:        deps.Albums,
		chatBackend:   deps.ChatBackend,
		messageWindow: deps.ChatMessageWindow,
		historyLimit:  deps.ChatHistoryLimit,
		logger:        logger,
	}

	authGroup := router.Group("/auth")
	if deps.AuthLimiter != nil {
		authGroup.Use(RateLimitByClientIP(deps.AuthLimiter))
	}
	authGroup.POST("/token", handler.handleTokenExchange)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/cheeses", handler.handleListCheeses)
	protected.POST("/cheeses", handler.handleCreateCheese)
	protected.GET("/cheeses/:id", handler.handleGetCheese)
	protected.PUT("/cheeses/:id", handler.handleUpdateCheese)
	protected.DELETE("/cheeses/:id", handler.handleDeleteCheese)
	protected.GET("/gallery", handler.handleGallery)
	protected.GET("/origins", handler.handleOrigins)
	protected.POST("/cheeses/:id/likes", handler.handleLike)
	protected.DELETE("/cheeses/:id/likes", handler.handleUnlike)
	protected.GET("/cheeses/:id/likes", handler.handleLikeCount)
	protected.GET("/cheeses/:id/photos", handler.handleListPhotos)
	protected.POST("/cheeses/:id/photos", handler.handleAddPhoto)
	protected.GET("/cheeses/:id/photos/:position", handler.handleGetPhoto)
	protected.DELETE("/cheeses/:id/photos/:position", handler.handleRemovePhoto)
	protected.PUT("/cheeses/:id/photos/order", handler.handleReorderPhotos)

	// WebSocket upgrades cannot carry an Authorization header, so the chat
	// endpoint authenticates inside the handler via access_token.
	router.GET("/chat/ws", handler.handleChatSocket)

	return router, nil
}

type httpHandler struct {
	verifier      ProviderVerifier
	tokens        BackendTokenManager
	users         IdentityResolver
	cheeses       *cheese.Service
	albums        *photos.AlbumService
	chatBackend   chat.Backend
	messageWindow int
	historyLimit  int
	logger        *zap.Logger
}

type tokenRequestPayload struct {
	IDToken string `json:"id_token"`
}

type tokenResponsePayload struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	TokenType   string        `json:"token_type"`
	User        users.Profile `json:"user"`
}

func (h *httpHandler) handleTokenExchange(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.IDToken) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	claims, err := h.verifier.Verify(c.Request.Context(), request.IDToken)
	if err != nil {
		h.logger.Warn("provider token verification failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	profile, err := h.users.Resolve(claims)
	if err != nil {
		h.logger.Error("identity resolution failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "identity_resolution_failed"})
		return
	}

	claims.Subject = profile.UserID
	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), claims)
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		User:        profile,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, err := auth.TokenFromRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func (h *httpHandler) handleListCheeses(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	records, err := h.cheeses.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cheeses": records})
}

func (h *httpHandler) handleCreateCheese(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var input cheese.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record, err := h.cheeses.Create(c.Request.Context(), userID, input)
	if err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *httpHandler) handleGetCheese(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	record, err := h.cheeses.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleUpdateCheese(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	var input cheese.Input
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	record, err := h.cheeses.Update(c.Request.Context(), userID, c.Param("id"), input)
	if err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *httpHandler) handleDeleteCheese(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	cheeseID := c.Param("id")
	if err := h.cheeses.Delete(c.Request.Context(), userID, cheeseID); err != nil {
		h.respondCheeseError(c, err)
		return
	}
	if err := h.albums.Clear(c.Request.Context(), cheeseID); err != nil {
		h.logger.Warn("failed to clear photo album", zap.String("cheese_id", cheeseID), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGallery(c *gin.Context) {
	limit := parsePositiveInt(c.Query("limit"), 50)
	entries, err := h.cheeses.Gallery(c.Request.Context(), limit)
	if err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gallery": entries})
}

func (h *httpHandler) handleOrigins(c *gin.Context) {
	origins, err := h.cheeses.OriginSummary(c.Request.Context())
	if err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"origins": origins})
}

func (h *httpHandler) handleLike(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.cheeses.Like(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleUnlike(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if err := h.cheeses.Unlike(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLikeCount(c *gin.Context) {
	count, err := h.cheeses.LikeCount(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondCheeseError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"likes": count})
}

func (h *httpHandler) handleListPhotos(c *gin.Context) {
	if !h.canViewCheese(c) {
		return
	}
	album, err := h.albums.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "album_list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"photos": album})
}

func (h *httpHandler) handleAddPhoto(c *gin.Context) {
	if !h.mustOwnCheese(c) {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxPhotoBytes))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_photo"})
		return
	}
	photo, err := h.albums.Add(c.Request.Context(), c.Param("id"), data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "photo_upload_failed"})
		return
	}
	c.JSON(http.StatusCreated, photo)
}

func (h *httpHandler) handleGetPhoto(c *gin.Context) {
	if !h.canViewCheese(c) {
		return
	}
	position := parsePositiveInt(c.Param("position"), 0)
	data, err := h.albums.Get(c.Request.Context(), c.Param("id"), position)
	if errors.Is(err, photos.ErrPositionOutOfRange) {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "photo_read_failed"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *httpHandler) handleRemovePhoto(c *gin.Context) {
	if !h.mustOwnCheese(c) {
		return
	}
	position := parsePositiveInt(c.Param("position"), 0)
	err := h.albums.Remove(c.Request.Context(), c.Param("id"), position)
	if errors.Is(err, photos.ErrPositionOutOfRange) {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "photo_remove_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type reorderRequestPayload struct {
	Order []int `json:"order"`
}

func (h *httpHandler) handleReorderPhotos(c *gin.Context) {
	if !h.mustOwnCheese(c) {
		return
	}
	var request reorderRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.albums.Reorder(c.Request.Context(), c.Param("id"), request.Order)
	if errors.Is(err, photos.ErrInvalidOrder) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_order"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "photo_reorder_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// canViewCheese enforces the cheese's owner-or-public visibility on its album.
func (h *httpHandler) canViewCheese(c *gin.Context) bool {
	userID := c.GetString(userIDContextKey)
	if _, err := h.cheeses.Get(c.Request.Context(), userID, c.Param("id")); err != nil {
		h.respondCheeseError(c, err)
		return false
	}
	return true
}

func (h *httpHandler) mustOwnCheese(c *gin.Context) bool {
	userID := c.GetString(userIDContextKey)
	record, err := h.cheeses.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.respondCheeseError(c, err)
		return false
	}
	if record.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

func (h *httpHandler) respondCheeseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, cheese.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, cheese.ErrNotOwner), errors.Is(err, cheese.ErrNotPublic):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, cheese.ErrEmptyName), errors.Is(err, cheese.ErrInvalidOwnerID), errors.Is(err, cheese.ErrInvalidCheeseID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("cheese operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func parsePositiveInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
