package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/handlers/dto"
)

type RoomHandler struct {
	db  *database.Database
	log *slog.Logger
	now func() time.Time
}

func NewRoomHandler(db *database.Database, l *slog.Logger) *RoomHandler {
	return &RoomHandler{db: db, log: l.With("component", "rooms_http"), now: time.Now}
}

// CreateRoom opens a private room owned by the caller.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
		return
	}

	room, err := h.db.OpenRoom(c.Request.Context(), userID, h.now())
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "user_not_found"})
		return
	}
	if err != nil {
		h.log.Error("create room", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to create room"})
		return
	}

	c.JSON(http.StatusOK, dto.CreateRoomResponse{Code: room.Code})
}

// DeleteRoom lets the owner remove a room. Members still in it get nothing more.
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	userID, err := currentUser(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "unauthorized"})
		return
	}

	room, err := h.db.FindRoomByCode(c.Request.Context(), c.Param("code"))
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "room not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to load room"})
		return
	}

	if room.OwnerID == nil || *room.OwnerID != userID {
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "only the owner can delete a room"})
		return
	}

	if err := h.db.DeleteRoom(c.Request.Context(), room.ID); err != nil {
		h.log.Error("delete room", "room", room.Code, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to delete room"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Time echoes clientTimestamp next to the server clock for NTP-style offset estimates.
func (h *RoomHandler) Time(c *gin.Context) {
	resp := dto.TimeResponse{ServerNowMs: h.now().UnixMilli()}
	if raw := c.Query("clientTimestamp"); raw != "" {
		if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
			resp.ClientTimestamp = &ts
		}
	}
	c.JSON(http.StatusOK, resp)
}

func Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
