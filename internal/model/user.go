package model

import "time"

// User 后台管理用户
// swagger:model User
type User struct {
	UUIDBase
	Username    string     `gorm:"size:100;uniqueIndex;not null" json:"username"`
	Password    string     `gorm:"size:200;not null" json:"-"` // bcrypt哈希
	Email       string     `gorm:"size:200" json:"email"`
	LastLoginAt *time.Time `json:"lastLoginAt"`
}

func (User) TableName() string {
	return "users"
}
