package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/spaced/internal/oplog"
)

const clientIDContextKey = "spaced_client_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingSyncService   = errors.New("sync service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type TokenManager interface {
	IssueClientToken(ctx context.Context, clientID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenManager TokenManager
	SyncService  *Service
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.SyncService == nil {
		return nil, errMissingSyncService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		syncService: deps.SyncService,
		logger:      logger,
	}

	router.POST("/v1/clients", handler.handleRegisterClient)

	protected := router.Group("/v1/sync")
	protected.Use(handler.authorizeRequest)
	protected.POST("/push", handler.handlePush)
	protected.GET("/pull", handler.handlePull)

	return router, nil
}

type httpHandler struct {
	tokens      TokenManager
	syncService *Service
	logger      *zap.Logger
}

type registerResponsePayload struct {
	ClientID    string `json:"client_id"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleRegisterClient(c *gin.Context) {
	clientID, err := h.syncService.RegisterClient(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to register client", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registration_failed"})
		return
	}

	token, expiresIn, err := h.tokens.IssueClientToken(c.Request.Context(), clientID)
	if err != nil {
		h.logger.Error("failed to issue client token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	response := registerResponsePayload{
		ClientID:    clientID,
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	}
	c.JSON(http.StatusOK, response)
}

type pushRequestPayload struct {
	Operations []json.RawMessage `json:"operations"`
}

type pushResponsePayload struct {
	Accepted int `json:"accepted"`
}

func (h *httpHandler) handlePush(c *gin.Context) {
	clientID := c.GetString(clientIDContextKey)
	if clientID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request pushRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Operations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	ops := make([]oplog.Operation, 0, len(request.Operations))
	for _, envelope := range request.Operations {
		op, err := oplog.Decode(envelope)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_operation"})
			return
		}
		ops = append(ops, op)
	}

	if err := h.syncService.Push(c.Request.Context(), clientID, ops); err != nil {
		h.logger.Error("failed to store pushed operations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	c.JSON(http.StatusOK, pushResponsePayload{Accepted: len(ops)})
}

type pullResponsePayload struct {
	Operations []json.RawMessage `json:"operations"`
}

func (h *httpHandler) handlePull(c *gin.Context) {
	clientID := c.GetString(clientIDContextKey)
	if clientID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	after := int64(0)
	if raw := c.Query("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		after = parsed
	}

	batch, err := h.syncService.Pull(c.Request.Context(), clientID, after)
	if err != nil {
		h.logger.Error("failed to load operations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	response := pullResponsePayload{Operations: make([]json.RawMessage, 0, len(batch))}
	for _, sequenced := range batch {
		envelope, err := oplog.EncodeSequenced(sequenced)
		if err != nil {
			h.logger.Error("failed to encode operation", zap.Int64("seqNo", sequenced.SeqNo), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
			return
		}
		response.Operations = append(response.Operations, json.RawMessage(envelope))
	}

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	clientID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(clientIDContextKey, clientID)
	c.Next()
}
