package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/thereayou/roomkit/internal/database"
	"github.com/thereayou/roomkit/internal/models"
)

// roomLookup is either a room or the reason there isn't one.
type roomLookup struct {
	room    *models.Room
	failure error
}

func (l roomLookup) ok() bool { return l.failure == nil }

// parseCode reads the "code" field as sent. Missing, null or falsy values
// mean no code; any other non-string can never name a room.
func parseCode(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var code string
	if err := json.Unmarshal(raw, &code); err == nil {
		return code, nil
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", ErrRoomNotFound
	}
	switch v := v.(type) {
	case nil:
		return "", nil
	case bool:
		if !v {
			return "", nil
		}
	case float64:
		if v == 0 {
			return "", nil
		}
	case []interface{}:
		if len(v) == 0 {
			return "", nil
		}
	case map[string]interface{}:
		if len(v) == 0 {
			return "", nil
		}
	}
	return "", ErrRoomNotFound
}

func lookupRoom(ctx context.Context, store Store, code string) roomLookup {
	if code == "" {
		return roomLookup{failure: ErrCodeRequired}
	}

	room, err := store.FindRoomByCode(ctx, code)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return roomLookup{failure: ErrRoomNotFound}
	case err != nil:
		return roomLookup{failure: fmt.Errorf("%w: %v", ErrJoinFailed, err)}
	}
	return roomLookup{room: room}
}
