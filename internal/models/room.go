package models

import (
	"crypto/rand"
	"encoding/hex"

	"gorm.io/gorm"
)

// codeBytes random bytes give a 14 hex character room code.
const codeBytes = 7

type Room struct {
	ID        uint   `gorm:"primaryKey"`
	Code      string `gorm:"size:64;uniqueIndex;not null"`
	OwnerID   *uint  `gorm:"index"`
	CreatedAt int64  `gorm:"autoCreateTime"`
	IsPrivate bool   `gorm:"default:true"`

	Owner *User `gorm:"foreignKey:OwnerID"`
}

// Snapshot is the authoritative room representation pushed to clients.
type Snapshot struct {
	ID        uint   `json:"id"`
	Code      string `json:"code"`
	OwnerID   *uint  `json:"owner_id"`
	CreatedAt int64  `json:"created_at"`
	IsPrivate bool   `json:"is_private"`
}

func (r *Room) Snapshot() Snapshot {
	return Snapshot{
		ID:        r.ID,
		Code:      r.Code,
		OwnerID:   r.OwnerID,
		CreatedAt: r.CreatedAt,
		IsPrivate: r.IsPrivate,
	}
}

// BeforeCreate fills in the server generated code.
func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.Code == "" {
		code, err := NewRoomCode()
		if err != nil {
			return err
		}
		r.Code = code
	}
	return nil
}

func NewRoomCode() (string, error) {
	b := make([]byte, codeBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
