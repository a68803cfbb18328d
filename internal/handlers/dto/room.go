package dto

import "github.com/thereayou/roomkit/internal/models"

type CreateRoomResponse struct {
	Code string `json:"code"`
}

type TimeResponse struct {
	ServerNowMs     int64  `json:"serverNowMs"`
	ClientTimestamp *int64 `json:"clientTimestamp"`
}

type MeResponse struct {
	models.UserView
	Email    *string `json:"email"`
	LastSeen int64   `json:"last_seen"`
	Active   bool    `json:"active"`
	Online   bool    `json:"online"`
}

// PresenceResponse carries connection IDs only when the caller asks about themselves.
type PresenceResponse struct {
	UserID        uint     `json:"user_id"`
	Online        bool     `json:"online"`
	Connections   int      `json:"connections"`
	ConnectionIDs []string `json:"connection_ids,omitempty"`
	Verified      bool     `json:"verified"`
}
