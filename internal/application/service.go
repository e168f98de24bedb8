// Package application は求人応募の管理とダッシュボード統計のドメインロジックを提供する。
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hitoshi/ghosted/internal/auth"
	"github.com/hitoshi/ghosted/internal/cv"
	"github.com/hitoshi/ghosted/internal/model"
	"github.com/hitoshi/ghosted/internal/repository"
	"github.com/hitoshi/ghosted/internal/security"
	"github.com/hitoshi/ghosted/internal/storage"
)

// CVRemover は削除された応募の履歴書ファイルを片付ける。
type CVRemover interface {
	Remove(ctx context.Context, app *model.Application) error
}

// statCards はダッシュボードに表示する統計カードの定義。表示順に並べる。
// statusが空のカードは全件数を表す。
var statCards = []struct {
	label  string
	status model.Status
	color  string
}{
	{"Total", "", "text-primary"},
	{"Interview", model.StatusInterviewing, "text-purple-400"},
	{"Screening", model.StatusScreening, "text-yellow-400"},
	{"Offer", model.StatusOffer, "text-green-400"},
	{"Rejected", model.StatusRejected, "text-red-400"},
	{"Ghosted", model.StatusGhosted, "text-gray-400"},
}

// Service は応募管理のサービス層。
// すべての操作は検証済みの呼び出し元（auth.Principal）を受け取り、所有者のデータのみを扱う。
type Service struct {
	repo      repository.ApplicationRepository
	users     repository.UserRepository
	store     storage.BlobStore
	cv        CVRemover
	sanitizer *security.TextSanitizer
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	repo repository.ApplicationRepository,
	users repository.UserRepository,
	store storage.BlobStore,
	cvRemover CVRemover,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		users:     users,
		store:     store,
		cv:        cvRemover,
		sanitizer: security.NewTextSanitizer(),
		validate:  newValidator(),
		logger:    logger,
		now:       time.Now,
	}
}

// List はユーザーの応募一覧を作成日時の降順で返す。0件の場合は空スライスを返す。
func (s *Service) List(ctx context.Context, p auth.Principal) ([]*model.Application, error) {
	apps, err := s.repo.ListByUserID(ctx, p.UserID)
	if err != nil {
		return nil, model.NewDataAccessError(err)
	}
	if apps == nil {
		apps = []*model.Application{}
	}
	return apps, nil
}

// Get は指定IDの応募を返す。
// 存在しない場合（IDがUUIDでない場合を含む）はNotFound、他ユーザーの応募の場合はForbiddenを返す。
func (s *Service) Get(ctx context.Context, p auth.Principal, id string) (*model.Application, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewApplicationNotFoundError(id)
	}

	app, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewDataAccessError(err)
	}
	if app == nil {
		return nil, model.NewApplicationNotFoundError(id)
	}
	if !app.OwnedBy(p.UserID) {
		return nil, model.NewForbiddenError()
	}
	return app, nil
}

// Create は応募を作成する。
// statusの既定値はapplied、applied_atの既定値は作成日。status_updated_atには作成日時を設定する。
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (*model.Application, error) {
	in = in.sanitize(s.sanitizer)
	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	now := s.now().UTC()

	status := model.StatusApplied
	if in.Status != "" {
		status = model.Status(in.Status)
	}

	appliedAt := truncateToDate(now)
	if in.AppliedAt.Valid && in.AppliedAt.Value != "" {
		// 形式はvalidatorで検証済み
		appliedAt, _ = time.Parse(model.DateLayout, in.AppliedAt.Value)
	}

	cvUsed := emptyAsNull(in.CVUsed)
	// 作成前の応募に紐づく履歴書は存在し得ない
	if err := s.checkCVPath(ctx, "", cvUsed); err != nil {
		return nil, err
	}

	app := &model.Application{
		ID:              uuid.NewString(),
		UserID:          p.UserID,
		Company:         in.Company,
		JobTitle:        in.JobTitle,
		Status:          status,
		AppliedThrough:  emptyAsNull(in.AppliedThrough).Ptr(),
		Link:            emptyAsNull(in.Link).Ptr(),
		Location:        emptyAsNull(in.Location).Ptr(),
		SalaryRange:     emptyAsNull(in.SalaryRange).Ptr(),
		CVUsed:          cvUsed.Ptr(),
		AppliedAt:       appliedAt,
		StatusUpdatedAt: &now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	s.syncUser(ctx, p)

	if err := s.repo.Create(ctx, app); err != nil {
		return nil, model.NewDataAccessError(err)
	}

	s.logger.Info("応募を作成しました",
		slog.String("application_id", app.ID),
		slog.String("user_id", p.UserID),
	)
	return app, nil
}

// Update は応募を部分更新する。
// 現在の行を読み直して所有者を確認し、ステータスの値が変わる場合のみstatus_updated_atを進める。
func (s *Service) Update(ctx context.Context, p auth.Principal, id string, in UpdateInput) (*model.Application, error) {
	current, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}

	in = in.sanitize(s.sanitizer)
	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	patch, err := s.buildPatch(ctx, current.ID, in)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil && *patch.Status != current.Status {
		now := s.now().UTC()
		patch.StatusUpdatedAt = &now
	}

	if patch.IsEmpty() {
		return current, nil
	}

	updated, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return nil, model.NewDataAccessError(err)
	}
	if updated == nil {
		return nil, model.NewApplicationNotFoundError(id)
	}
	return updated, nil
}

// buildPatch は検証済みの入力を部分更新内容に変換する。
func (s *Service) buildPatch(ctx context.Context, appID string, in UpdateInput) (model.ApplicationPatch, error) {
	patch := model.ApplicationPatch{
		Company:        in.Company,
		JobTitle:       in.JobTitle,
		AppliedThrough: emptyAsNull(in.AppliedThrough),
		Link:           emptyAsNull(in.Link),
		Location:       emptyAsNull(in.Location),
		SalaryRange:    emptyAsNull(in.SalaryRange),
		CVUsed:         emptyAsNull(in.CVUsed),
	}

	if in.Status != nil && *in.Status != "" {
		status := model.Status(*in.Status)
		patch.Status = &status
	}

	// applied_atはNOT NULLのため、nullや空文字は「変更なし」として扱う
	if in.AppliedAt.Valid && in.AppliedAt.Value != "" {
		t, _ := time.Parse(model.DateLayout, in.AppliedAt.Value)
		patch.AppliedAt = &t
	}

	if err := s.checkCVPath(ctx, appID, patch.CVUsed); err != nil {
		return model.ApplicationPatch{}, err
	}
	return patch, nil
}

// Delete は応募を削除し、紐づく履歴書ファイルをベストエフォートで削除する。
func (s *Service) Delete(ctx context.Context, p auth.Principal, app *model.Application) error {
	if !app.OwnedBy(p.UserID) {
		return model.NewForbiddenError()
	}

	if err := s.repo.Delete(ctx, app.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.NewApplicationNotFoundError(app.ID)
		}
		return model.NewDataAccessError(err)
	}

	if s.cv != nil {
		if err := s.cv.Remove(ctx, app); err != nil {
			s.logger.Warn("削除した応募の履歴書ファイルを削除できませんでした",
				slog.String("application_id", app.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("応募を削除しました",
		slog.String("application_id", app.ID),
		slog.String("user_id", p.UserID),
	)
	return nil
}

// Stats はダッシュボードの統計カードを返す。
// 全件数と面接・書類選考・内定・不採用・音信不通の件数を固定の順序で並べる。
func (s *Service) Stats(ctx context.Context, p auth.Principal) ([]model.StatItem, error) {
	counts, err := s.repo.StatusCountsByUserID(ctx, p.UserID)
	if err != nil {
		return nil, model.NewDataAccessError(err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	items := make([]model.StatItem, 0, len(statCards))
	for _, card := range statCards {
		value := total
		if card.status != "" {
			value = counts[card.status]
		}
		items = append(items, model.StatItem{Label: card.label, Value: value, Color: card.color})
	}
	return items, nil
}

// checkCVPath はcv_usedに指定されたパスが応募appIDにアップロードされた履歴書であり、
// ストレージに存在することを確認する。他の応募の履歴書は指定できない。
func (s *Service) checkCVPath(ctx context.Context, appID string, cvUsed model.OptionalString) error {
	if !cvUsed.Valid {
		return nil
	}
	if !cv.BelongsTo(cvUsed.Value, appID) {
		return model.NewValidationError([]model.FieldError{
			{Field: "cv_used", Message: "この応募にアップロードした履歴書のみ指定できます"},
		})
	}

	ok, err := s.store.Exists(ctx, cvUsed.Value)
	if err != nil {
		return model.NewStorageError(fmt.Errorf("履歴書の存在確認に失敗しました: %w", err))
	}
	if !ok {
		return model.NewValidationError([]model.FieldError{
			{Field: "cv_used", Message: "指定された履歴書ファイルが存在しません"},
		})
	}
	return nil
}

// syncUser はIdPのユーザー情報をミラーテーブルへ反映する。
// 失敗しても応募の作成は継続する。
func (s *Service) syncUser(ctx context.Context, p auth.Principal) {
	if s.users == nil {
		return
	}
	err := s.users.Upsert(ctx, &model.User{ID: p.UserID, Email: p.Email, Role: p.Role})
	if err != nil {
		s.logger.Warn("ユーザー情報の同期に失敗しました",
			slog.String("user_id", p.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
