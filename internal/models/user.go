package models

import "time"

type User struct {
	ID        uint    `gorm:"primaryKey"`
	GoogleSub *string `gorm:"size:255;uniqueIndex"`
	Email     *string `gorm:"size:255;uniqueIndex"`
	Name      string  `gorm:"size:255"`
	Picture   string  `gorm:"size:1024"`
	// LastSeen is epoch seconds of the latest join/leave/heartbeat.
	LastSeen int64  `gorm:"index"`
	Active   bool   `gorm:"index;default:true"`
	Role     string `gorm:"size:32;default:user"`
	FakeUser bool   `gorm:"index;default:false"`
}

// UserView is the public projection sent to clients.
type UserView struct {
	ID       uint   `json:"id"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	FakeUser bool   `json:"fake_user"`
}

func (u *User) View() UserView {
	return UserView{ID: u.ID, Name: u.Name, Picture: u.Picture, FakeUser: u.FakeUser}
}

// Touch stamps last-seen; active is only raised, never lowered here.
func (u *User) Touch(now time.Time, markActive bool) {
	u.LastSeen = now.Unix()
	if markActive {
		u.Active = true
	}
}
