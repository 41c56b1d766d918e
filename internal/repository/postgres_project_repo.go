package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/projecthub/internal/model"
)

// PostgresProjectRepo はPostgreSQLを使用したプロジェクトリポジトリ。
type PostgresProjectRepo struct {
	db *sql.DB
}

// NewPostgresProjectRepo はPostgresProjectRepoを生成する。
func NewPostgresProjectRepo(db *sql.DB) *PostgresProjectRepo {
	return &PostgresProjectRepo{db: db}
}

// FindByID は指定IDのプロジェクトを取得する。見つからない場合はnilを返す。
func (r *PostgresProjectRepo) FindByID(ctx context.Context, id int) (*model.Project, error) {
	p := &model.Project{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, description, status, created_at, updated_at, user_id
		 FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.UserID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find project by ID: %w", err)
	}

	return p, nil
}

// List はプロジェクト一覧をoffset/limitページネーションで返す。
// userIDが空文字列でない場合は所有者でフィルタする。
func (r *PostgresProjectRepo) List(ctx context.Context, userID string, offset, limit int) ([]*model.Project, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if userID != "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, name, description, status, created_at, updated_at, user_id
			 FROM projects WHERE user_id = $1
			 ORDER BY created_at DESC, id DESC
			 OFFSET $2 LIMIT $3`,
			userID, offset, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT id, name, description, status, created_at, updated_at, user_id
			 FROM projects
			 ORDER BY created_at DESC, id DESC
			 OFFSET $1 LIMIT $2`,
			offset, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []*model.Project{}
	for rows.Next() {
		p := &model.Project{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate project rows: %w", err)
	}

	return projects, nil
}

// Create はプロジェクトを作成し、採番されたIDとタイムスタンプを反映する。
func (r *PostgresProjectRepo) Create(ctx context.Context, project *model.Project) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO projects (name, description, status, user_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, updated_at`,
		project.Name, project.Description, project.Status, project.UserID,
	).Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	return nil
}

// Update はプロジェクトを上書き更新し、updated_atを進める。
func (r *PostgresProjectRepo) Update(ctx context.Context, project *model.Project) error {
	err := r.db.QueryRowContext(ctx,
		`UPDATE projects
		 SET name = $1, description = $2, status = $3, updated_at = now()
		 WHERE id = $4
		 RETURNING updated_at`,
		project.Name, project.Description, project.Status, project.ID,
	).Scan(&project.UpdatedAt)

	if err == sql.ErrNoRows {
		return fmt.Errorf("project not found: %d", project.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	return nil
}

// Delete は指定IDのプロジェクトを削除する。
func (r *PostgresProjectRepo) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM projects WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project not found: %d", id)
	}
	return nil
}

// CountByOwnerAndStatus は所有者のプロジェクト数をステータス別に返す。
// statusが空文字列の場合は全ステータスを数える。
func (r *PostgresProjectRepo) CountByOwnerAndStatus(ctx context.Context, userID, status string) (int, error) {
	var count int
	var err error

	if status != "" {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM projects WHERE user_id = $1 AND status = $2`,
			userID, status,
		).Scan(&count)
	} else {
		err = r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM projects WHERE user_id = $1`,
			userID,
		).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}

	return count, nil
}

// compile-time interface check
var _ ProjectRepository = (*PostgresProjectRepo)(nil)
