package model

import "time"

// User は通知の宛先となるユーザーを表す。
type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
