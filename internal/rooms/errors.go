package rooms

import "errors"

var (
	ErrCodeRequired = errors.New("room code required")
	ErrRoomNotFound = errors.New("room not found")
	ErrJoinFailed   = errors.New("failed to join room")
)

// errorMessage maps a join failure to the text sent in room.error.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrCodeRequired):
		return "Room code required"
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found"
	default:
		return "Failed to join room"
	}
}
