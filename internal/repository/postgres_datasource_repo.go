package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/relwatch/internal/model"
)

// PostgresDataSourceRepo はPostgreSQLを使用したDataSourceリポジトリ。
type PostgresDataSourceRepo struct {
	db *sql.DB
}

// NewPostgresDataSourceRepo はPostgresDataSourceRepoを生成する。
func NewPostgresDataSourceRepo(db *sql.DB) *PostgresDataSourceRepo {
	return &PostgresDataSourceRepo{db: db}
}

// FindByID は指定IDのDataSourceを取得する。見つからない場合はnilを返す。
func (r *PostgresDataSourceRepo) FindByID(ctx context.Context, id string) (*model.DataSource, error) {
	ds := &model.DataSource{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner, repo, url, created_at, updated_at
		 FROM data_sources WHERE id = $1`,
		id,
	).Scan(&ds.ID, &ds.Owner, &ds.Repo, &ds.URL, &ds.CreatedAt, &ds.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("DataSourceの取得に失敗しました: %w", err)
	}

	return ds, nil
}

// FindByOwnerRepo はowner/repoでDataSourceを検索する。見つからない場合はnilを返す。
func (r *PostgresDataSourceRepo) FindByOwnerRepo(ctx context.Context, owner, repo string) (*model.DataSource, error) {
	ds := &model.DataSource{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, owner, repo, url, created_at, updated_at
		 FROM data_sources WHERE owner = $1 AND repo = $2`,
		owner, repo,
	).Scan(&ds.ID, &ds.Owner, &ds.Repo, &ds.URL, &ds.CreatedAt, &ds.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("owner/repoによるDataSourceの検索に失敗しました: %w", err)
	}

	return ds, nil
}

// Create はDataSourceを作成する。
func (r *PostgresDataSourceRepo) Create(ctx context.Context, ds *model.DataSource) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO data_sources (id, owner, repo, url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ds.ID, ds.Owner, ds.Repo, ds.URL, ds.CreatedAt, ds.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("DataSourceの作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ DataSourceRepository = (*PostgresDataSourceRepo)(nil)
