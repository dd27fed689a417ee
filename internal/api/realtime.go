package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/apperrors"
	"github.com/aegisshield/ml-workbench/internal/auth"
)

// RealtimeToken issues a short-lived token for the notification stream
func (h *Handler) RealtimeToken(c *gin.Context) {
	token, expires, err := h.deps.Auth.GenerateRealtimeToken(auth.UserID(c))
	if err != nil {
		h.respondError(c, apperrors.Wrap(apperrors.Internal, err, "cannot issue realtime token"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
}

// RealtimeStream upgrades to a websocket carrying the user's job notifications
func (h *Handler) RealtimeStream(c *gin.Context) {
	token, ok := h.requireQuery(c, "token")
	if !ok {
		return
	}
	claims, err := h.deps.Auth.ValidateRealtimeToken(token)
	if err != nil {
		h.respondError(c, apperrors.Wrap(apperrors.Unauthorized, err, "invalid realtime token"))
		return
	}
	c.Set(auth.ContextUserKey, claims.UserID)

	// the upgrader has already answered the client when Serve fails
	if err := h.deps.Hub.Serve(c.Writer, c.Request, claims.UserID); err != nil {
		h.logger.Warn("Realtime upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
	}
}
