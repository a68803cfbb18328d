package database

import (
	"context"
	"fmt"
	"time"

	"github.com/thereayou/roomkit/internal/models"
)

func (d *Database) SaveUser(ctx context.Context, user *models.User) error {
	return d.db.WithContext(ctx).Create(user).Error
}

func (d *Database) GetUser(ctx context.Context, id uint) (*models.User, error) {
	user := models.User{}
	if err := d.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// ListUsers returns the users with the given ids; unknown ids are skipped.
func (d *Database) ListUsers(ctx context.Context, ids []uint) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (d *Database) FindUserByGoogleSub(ctx context.Context, sub string) (*models.User, error) {
	user := models.User{}
	if err := d.db.WithContext(ctx).Where("google_sub = ?", sub).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GoogleProfile is what the OAuth callback learns about a user.
type GoogleProfile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

// UpsertGoogleUser creates the user on first login and refreshes the profile afterwards.
func (d *Database) UpsertGoogleUser(ctx context.Context, p GoogleProfile) (*models.User, error) {
	user, err := d.FindUserByGoogleSub(ctx, p.Subject)
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("find google user: %w", err)
	}

	var email *string
	if p.Email != "" {
		email = &p.Email
	}

	if user == nil {
		sub := p.Subject
		user = &models.User{
			GoogleSub: &sub,
			Email:     email,
			Name:      p.Name,
			Picture:   p.Picture,
			Active:    true,
		}
		user.Touch(time.Now(), true)
		if err := d.SaveUser(ctx, user); err != nil {
			return nil, fmt.Errorf("create google user: %w", err)
		}
		return user, nil
	}

	user.Email = email
	user.Name = p.Name
	user.Picture = p.Picture
	if err := d.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, fmt.Errorf("update google user: %w", err)
	}
	return user, nil
}

// UpdateLastSeen stamps last_seen; markActive additionally raises the active flag.
// Concurrent writers race and the last one wins.
func (d *Database) UpdateLastSeen(ctx context.Context, id uint, ts time.Time, markActive bool) error {
	updates := map[string]interface{}{"last_seen": ts.Unix()}
	if markActive {
		updates["active"] = true
	}
	res := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *Database) SetUserActive(ctx context.Context, id uint, active bool) error {
	res := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
