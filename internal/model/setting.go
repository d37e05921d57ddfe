package model

import "time"

// SystemSettingLastNotificationRunAt は通知集約ジョブのウォーターマークのキー。
const SystemSettingLastNotificationRunAt = "last_notification_run_at"

// SystemSetting はプロセス全体で共有するキー・バリュー設定を表す。
// グローバル変数ではなく単一行のレコードとして永続化し、
// get-or-createアクセサ経由で取得する。
type SystemSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
