package repository

import (
	"database/sql"
	"testing"
)

// 各リポジトリが対応するインターフェースを満たすことを検証
func TestPostgresRepos_ImplementInterfaces(t *testing.T) {
	var _ UserRepository = (*PostgresUserRepo)(nil)
	var _ DataSourceRepository = (*PostgresDataSourceRepo)(nil)
	var _ FeedRepository = (*PostgresFeedRepo)(nil)
	var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
	var _ SystemSettingRepository = (*PostgresSystemSettingRepo)(nil)
}

func TestNullString_Empty(t *testing.T) {
	ns := nullString("")
	if ns.Valid {
		t.Error("空文字列はValid=falseのNullStringになるべき")
	}
}

func TestNullString_NonEmpty(t *testing.T) {
	ns := nullString("value")
	if !ns.Valid || ns.String != "value" {
		t.Errorf("nullString(%q) = %+v, want Valid=true", "value", ns)
	}
}

func TestNullStringValue(t *testing.T) {
	if got := nullStringValue(sql.NullString{String: "x", Valid: true}); got != "x" {
		t.Errorf("nullStringValue = %q, want %q", got, "x")
	}
	if got := nullStringValue(sql.NullString{}); got != "" {
		t.Errorf("無効なNullStringは空文字列を返すべき, got %q", got)
	}
}
