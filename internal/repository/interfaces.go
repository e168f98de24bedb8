// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/ghosted/internal/model"
)

// ErrNotFound は更新・削除対象の行が存在しないことを表す。
var ErrNotFound = errors.New("record not found")

// ApplicationRepository は応募データの永続化インターフェース。
// すべての操作は単一のSQL文で完結する。
type ApplicationRepository interface {
	// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Application, error)

	// ListByUserID はユーザーの応募一覧を作成日時の降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Application, error)

	// Create は応募を作成する。ID・タイムスタンプは呼び出し側で設定する。
	Create(ctx context.Context, app *model.Application) error

	// Update はpatchで指定されたカラムのみを更新し、更新後の応募を返す。
	// 対象が存在しない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.ApplicationPatch) (*model.Application, error)

	// Delete は指定IDの応募を物理削除する。対象が存在しない場合はErrNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// UpdateCVPath は応募に紐づく履歴書のストレージパスを更新する。
	UpdateCVPath(ctx context.Context, id, path string) (*model.Application, error)

	// StatusCountsByUserID はユーザーの応募件数をステータス別に返す。
	StatusCountsByUserID(ctx context.Context, userID string) (map[model.Status]int, error)

	// ListStaleForNudge はナッジメールの候補となる応募を作成日時の昇順で返す。
	// statusesに含まれ、staleBefore以前から更新がなく、
	// 最終ナッジがnudgedBefore以前（または未送信）の応募が対象。
	ListStaleForNudge(ctx context.Context, statuses []model.Status, staleBefore, nudgedBefore time.Time) ([]*model.Application, error)

	// MarkNudged は指定した応募すべての最終ナッジ日時をatに更新し、更新件数を返す。
	MarkNudged(ctx context.Context, ids []string, at time.Time) (int64, error)
}

// UserRepository はIdPユーザーのミラーテーブルの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Upsert はユーザーを作成または更新する。
	Upsert(ctx context.Context, user *model.User) error
}
