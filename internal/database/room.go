package database

import (
	"context"
	"fmt"
	"time"

	"github.com/thereayou/roomkit/internal/models"
	"gorm.io/gorm"
)

// CreateRoom inserts a room owned by ownerID; the code is generated on insert.
func (d *Database) CreateRoom(ctx context.Context, ownerID uint) (*models.Room, error) {
	room := &models.Room{OwnerID: &ownerID, IsPrivate: true}
	if err := d.db.WithContext(ctx).Create(room).Error; err != nil {
		return nil, err
	}
	return room, nil
}

func (d *Database) GetRoom(ctx context.Context, id uint) (*models.Room, error) {
	var room models.Room
	if err := d.db.WithContext(ctx).First(&room, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (d *Database) FindRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	var room models.Room
	if err := d.db.WithContext(ctx).Where("code = ?", code).First(&room).Error; err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (d *Database) DeleteRoom(ctx context.Context, id uint) error {
	return d.db.WithContext(ctx).Delete(&models.Room{}, id).Error
}

// OpenRoom creates a room for an existing user and marks the owner as seen, in one transaction.
func (d *Database) OpenRoom(ctx context.Context, ownerID uint, now time.Time) (*models.Room, error) {
	var room *models.Room
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.User
		if err := tx.First(&owner, ownerID).Error; err != nil {
			return notFound(err)
		}

		room = &models.Room{OwnerID: &ownerID, IsPrivate: true}
		if err := tx.Create(room).Error; err != nil {
			return fmt.Errorf("create room: %w", err)
		}

		owner.Touch(now, true)
		return tx.Model(&owner).Select("last_seen", "active").Updates(&owner).Error
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}
