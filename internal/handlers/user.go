package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/handlers/dto"
	"github.com/thereayou/roomkit/internal/presence"
)

type UserHandler struct {
	db           *database.Database
	registry     *presence.Registry
	verification *presence.VerificationStore
}

func NewUserHandler(db *database.Database, registry *presence.Registry, verification *presence.VerificationStore) *UserHandler {
	return &UserHandler{db: db, registry: registry, verification: verification}
}

// GetMe returns the caller's profile and whether any socket of theirs is tracked.
func (h *UserHandler) GetMe(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
		return
	}

	user, err := h.db.GetUser(c.Request.Context(), userID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "user_not_found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to load user"})
		return
	}

	c.JSON(http.StatusOK, dto.MeResponse{
		UserView: user.View(),
		Email:    user.Email,
		LastSeen: user.LastSeen,
		Active:   user.Active,
		Online:   h.registry.IsOnline(c.Request.Context(), user.ID),
	})
}

func (h *UserHandler) GetPresence(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid user id"})
		return
	}
	userID := uint(id)

	if _, err := h.db.GetUser(c.Request.Context(), userID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "user_not_found"})
			return
		}
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to load user"})
		return
	}

	connections := h.registry.ListConnections(c.Request.Context(), userID)
	resp := dto.PresenceResponse{
		UserID:      userID,
		Online:      len(connections) > 0,
		Connections: len(connections),
		Verified:    h.verification.IsVerified(c.Request.Context(), userID),
	}
	if caller, err := currentUser(c); err == nil && caller == userID {
		resp.ConnectionIDs = connections
	}
	c.JSON(http.StatusOK, resp)
}
