package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/relwatch/internal/model"
)

// PostgresSystemSettingRepo はPostgreSQLを使用したシステム設定リポジトリ。
type PostgresSystemSettingRepo struct {
	db *sql.DB
}

// NewPostgresSystemSettingRepo はPostgresSystemSettingRepoを生成する。
func NewPostgresSystemSettingRepo(db *sql.DB) *PostgresSystemSettingRepo {
	return &PostgresSystemSettingRepo{db: db}
}

// GetOrCreate は指定キーの設定を取得する。存在しない場合はdefaultValueで作成して返す。
// ON CONFLICT DO NOTHINGにより並行作成でも一意性が保たれる。
func (r *PostgresSystemSettingRepo) GetOrCreate(ctx context.Context, key, defaultValue string) (*model.SystemSetting, error) {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO system_settings (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO NOTHING`,
		key, defaultValue,
	)
	if err != nil {
		return nil, fmt.Errorf("システム設定の作成に失敗しました: %w", err)
	}

	setting := &model.SystemSetting{}
	err = r.db.QueryRowContext(ctx,
		`SELECT key, value, updated_at FROM system_settings WHERE key = $1`,
		key,
	).Scan(&setting.Key, &setting.Value, &setting.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("システム設定が見つかりません: %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("システム設定の取得に失敗しました: %w", err)
	}

	return setting, nil
}

// Update は指定キーの設定値を更新する。
func (r *PostgresSystemSettingRepo) Update(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE system_settings SET value = $2, updated_at = now() WHERE key = $1`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("システム設定の更新に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SystemSettingRepository = (*PostgresSystemSettingRepo)(nil)
