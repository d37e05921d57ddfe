package model

import "time"

// Notification は1ユーザー宛のダイジェスト通知を表す。
// 1回の集約実行につきユーザーごとに最大1件作成され、作成後はRead以外不変。
type Notification struct {
	ID        string
	UserID    string
	Read      bool
	CreatedAt time.Time
}

// NotificationItem はダイジェスト内の1項目を表す。
// FeedLogIDは元になったFeedLogへの非所有の参照（ディープリンク用）。
type NotificationItem struct {
	ID             string
	NotificationID string
	FeedLogID      string
	Title          string
	CreatedAt      time.Time
}
