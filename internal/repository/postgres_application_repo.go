package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/ghosted/internal/model"
)

// applicationColumns はapplicationsテーブルのSELECT・RETURNING対象カラム。
// scanApplicationの引数順と一致させること。
const applicationColumns = `id, user_id, company, job_title, status,
	applied_through, link, location, salary_range, cv_used,
	applied_at, status_updated_at, last_nudge_sent_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresApplicationRepo はPostgreSQLを使用した応募リポジトリ。
type PostgresApplicationRepo struct {
	db *sql.DB
}

// NewPostgresApplicationRepo はPostgresApplicationRepoを生成する。
func NewPostgresApplicationRepo(db *sql.DB) *PostgresApplicationRepo {
	return &PostgresApplicationRepo{db: db}
}

// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
func (r *PostgresApplicationRepo) FindByID(ctx context.Context, id string) (*model.Application, error) {
	app, err := scanApplication(r.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("応募の取得に失敗しました: %w", err)
	}
	return app, nil
}

// ListByUserID はユーザーの応募一覧を作成日時の降順で返す。
func (r *PostgresApplicationRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Application, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications
		 WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectApplications(rows)
}

// Create は応募を作成する。
func (r *PostgresApplicationRepo) Create(ctx context.Context, app *model.Application) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO applications (
		     id, user_id, company, job_title, status,
		     applied_through, link, location, salary_range, cv_used,
		     applied_at, status_updated_at, created_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		app.ID, app.UserID, app.Company, app.JobTitle, string(app.Status),
		app.AppliedThrough, app.Link, app.Location, app.SalaryRange, app.CVUsed,
		app.AppliedAt, app.StatusUpdatedAt, app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("応募の作成に失敗しました: %w", err)
	}
	return nil
}

// Update はpatchで指定されたカラムのみを更新し、更新後の応募を返す。
// 対象が存在しない場合はnilを返す。patchが空の場合はupdated_atのみ更新する。
func (r *PostgresApplicationRepo) Update(ctx context.Context, id string, patch model.ApplicationPatch) (*model.Application, error) {
	query, args := buildUpdateQuery(id, patch)

	app, err := scanApplication(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("応募の更新に失敗しました: %w", err)
	}
	return app, nil
}

// buildUpdateQuery は部分更新用のUPDATE文と引数を組み立てる。
// カラム名は固定の許可リストからのみ生成し、値はすべてプレースホルダで渡す。
func buildUpdateQuery(id string, patch model.ApplicationPatch) (string, []any) {
	args := []any{id}
	var sets []string

	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	setOptional := func(column string, v model.OptionalString) {
		if v.Set {
			set(column, v.Ptr())
		}
	}

	if patch.Company != nil {
		set("company", *patch.Company)
	}
	if patch.JobTitle != nil {
		set("job_title", *patch.JobTitle)
	}
	if patch.Status != nil {
		set("status", string(*patch.Status))
	}
	setOptional("applied_through", patch.AppliedThrough)
	setOptional("link", patch.Link)
	setOptional("location", patch.Location)
	setOptional("salary_range", patch.SalaryRange)
	setOptional("cv_used", patch.CVUsed)
	if patch.AppliedAt != nil {
		set("applied_at", *patch.AppliedAt)
	}
	if patch.StatusUpdatedAt != nil {
		set("status_updated_at", *patch.StatusUpdatedAt)
	}
	sets = append(sets, "updated_at = NOW()")

	query := `UPDATE applications SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + applicationColumns
	return query, args
}

// Delete は指定IDの応募を物理削除する。
func (r *PostgresApplicationRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM applications WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("応募の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("削除結果の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("応募が見つかりません: %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateCVPath は応募に紐づく履歴書のストレージパスを更新する。
// 対象が存在しない場合はnilを返す。
func (r *PostgresApplicationRepo) UpdateCVPath(ctx context.Context, id, path string) (*model.Application, error) {
	app, err := scanApplication(r.db.QueryRowContext(ctx,
		`UPDATE applications SET cv_used = $2, updated_at = NOW()
		 WHERE id = $1 RETURNING `+applicationColumns,
		id, path,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("履歴書パスの更新に失敗しました: %w", err)
	}
	return app, nil
}

// StatusCountsByUserID はユーザーの応募件数をステータス別に返す。
// 応募のないステータスはマップに含まれない。
func (r *PostgresApplicationRepo) StatusCountsByUserID(ctx context.Context, userID string) (map[model.Status]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM applications WHERE user_id = $1 GROUP BY status`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ステータス別件数の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("ステータス別件数の読み取りに失敗しました: %w", err)
		}
		counts[model.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ステータス別件数の走査に失敗しました: %w", err)
	}
	return counts, nil
}

// ListStaleForNudge はナッジメールの候補となる応募を作成日時の昇順で返す。
// status_updated_atが未設定の行はcreated_atで滞留を判定する。
func (r *PostgresApplicationRepo) ListStaleForNudge(ctx context.Context, statuses []model.Status, staleBefore, nudgedBefore time.Time) ([]*model.Application, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications
		 WHERE status = ANY($1)
		   AND (status_updated_at <= $2 OR (status_updated_at IS NULL AND created_at <= $2))
		   AND (last_nudge_sent_at IS NULL OR last_nudge_sent_at <= $3)
		 ORDER BY created_at ASC`,
		pq.Array(names), staleBefore, nudgedBefore,
	)
	if err != nil {
		return nil, fmt.Errorf("ナッジ候補の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectApplications(rows)
}

// MarkNudged は指定した応募すべての最終ナッジ日時をatに一括更新する。
func (r *PostgresApplicationRepo) MarkNudged(ctx context.Context, ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE applications SET last_nudge_sent_at = $2 WHERE id = ANY($1::uuid[])`,
		pq.Array(ids), at,
	)
	if err != nil {
		return 0, fmt.Errorf("最終ナッジ日時の更新に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新結果の取得に失敗しました: %w", err)
	}
	return n, nil
}

// collectApplications は結果セットをすべて読み取る。0件の場合は空スライスを返す。
func collectApplications(rows *sql.Rows) ([]*model.Application, error) {
	apps := make([]*model.Application, 0)
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("応募行の読み取りに失敗しました: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("応募一覧の走査に失敗しました: %w", err)
	}
	return apps, nil
}

// scanApplication は1行分の応募を読み取る。
func scanApplication(row rowScanner) (*model.Application, error) {
	var (
		app                                                 model.Application
		status                                              string
		appliedThrough, link, location, salaryRange, cvUsed sql.NullString
		statusUpdatedAt, lastNudgeSentAt                    sql.NullTime
	)

	err := row.Scan(
		&app.ID, &app.UserID, &app.Company, &app.JobTitle, &status,
		&appliedThrough, &link, &location, &salaryRange, &cvUsed,
		&app.AppliedAt, &statusUpdatedAt, &lastNudgeSentAt, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	app.Status = model.Status(status)
	app.AppliedThrough = nullStringPtr(appliedThrough)
	app.Link = nullStringPtr(link)
	app.Location = nullStringPtr(location)
	app.SalaryRange = nullStringPtr(salaryRange)
	app.CVUsed = nullStringPtr(cvUsed)
	app.StatusUpdatedAt = nullTimePtr(statusUpdatedAt)
	app.LastNudgeSentAt = nullTimePtr(lastNudgeSentAt)

	return &app, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

// compile-time interface check
var _ ApplicationRepository = (*PostgresApplicationRepo)(nil)
