// Package cv は応募に添付する履歴書（PDF）の保存・取得・差し替えを提供する。
//
// 複数ステップにまたがる操作（ストレージへの保存とDBへの紐付け）は
// トランザクションで囲めないため、途中で失敗した場合は
// model.ErrCodePartialCompletion のエラーで完了済み・未完了のステップを返す。
package cv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode"

	"github.com/hitoshi/ghosted/internal/model"
	"github.com/hitoshi/ghosted/internal/repository"
	"github.com/hitoshi/ghosted/internal/storage"
)

const (
	// MaxSize はアップロード可能な履歴書ファイルの最大サイズ（5MiB）。
	MaxSize = 5 << 20

	// ContentTypePDF は受け付けるファイルのContent-Type。
	ContentTypePDF = "application/pdf"

	// pathSeparator はオブジェクトパスのファイル名と応募IDの区切り。
	pathSeparator = "--"

	defaultFileName = "cv.pdf"
)

// 部分完了エラーで報告するステップ名
const (
	StepUpload         = "upload"
	StepLink           = "link"
	StepRemovePrevious = "remove_previous"
)

var pdfMagic = []byte("%PDF-")

// File はアップロードされた履歴書ファイル。
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.ReadSeeker
}

// Validate はファイルが受け付け可能なPDFかどうかを検証する。
// 先頭バイトを読み取った後、Bodyは先頭に巻き戻される。
func Validate(f File) error {
	if f.Body == nil {
		return model.NewInvalidFileError("ファイルが指定されていません")
	}
	if f.Size <= 0 {
		return model.NewInvalidFileError("ファイルが空です")
	}
	if f.Size > MaxSize {
		return model.NewInvalidFileError("ファイルサイズが5MBを超えています")
	}
	if mediaType(f.ContentType) != ContentTypePDF {
		return model.NewInvalidFileError("PDF以外のファイル形式です")
	}

	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(f.Body, head)
	if _, seekErr := f.Body.Seek(0, io.SeekStart); seekErr != nil {
		return fmt.Errorf("ファイルの巻き戻しに失敗しました: %w", seekErr)
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("ファイルの読み取りに失敗しました: %w", err)
	}
	if !bytes.Equal(head[:n], pdfMagic) {
		return model.NewInvalidFileError("ファイルの内容がPDFではありません")
	}
	return nil
}

// mediaType はContent-Typeからパラメータを除いたメディアタイプを返す。
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

// ObjectPath は応募に紐づく履歴書のオブジェクトパスを返す。
// 形式は「<ファイル名>--<応募ID>」で、ファイル名からはディレクトリ成分と制御文字を除く。
func ObjectPath(filename, appID string) string {
	return sanitizeFileName(filename) + pathSeparator + appID
}

// BelongsTo はオブジェクトパスが指定した応募の履歴書を指すかどうかを返す。
// ファイル名部分が空のパスは不正として扱う。
func BelongsTo(objectPath, appID string) bool {
	if appID == "" {
		return false
	}
	suffix := pathSeparator + appID
	return len(objectPath) > len(suffix) && strings.HasSuffix(objectPath, suffix)
}

// FileName はオブジェクトパスから元のファイル名を取り出す。
func FileName(objectPath string) string {
	if i := strings.LastIndex(objectPath, pathSeparator); i > 0 {
		return objectPath[:i]
	}
	return objectPath
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return defaultFileName
	}
	return name
}

// Service は履歴書ファイルの操作を提供する。
type Service struct {
	repo   repository.ApplicationRepository
	store  storage.BlobStore
	logger *slog.Logger
}

// NewService はServiceを生成する。
func NewService(repo repository.ApplicationRepository, store storage.BlobStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, store: store, logger: logger}
}

// Upload は履歴書を保存し、応募のcv_usedに紐付ける。
// 保存後の紐付けに失敗した場合は部分完了エラーを返す。
func (s *Service) Upload(ctx context.Context, app *model.Application, f File) (*model.Application, error) {
	key := ObjectPath(f.Name, app.ID)

	contentType := mediaType(f.ContentType)
	if contentType == "" {
		contentType = ContentTypePDF
	}

	if err := s.store.Put(ctx, key, f.Body, contentType); err != nil {
		return nil, model.NewStorageError(fmt.Errorf("履歴書の保存に失敗しました: %w", err))
	}

	updated, err := s.repo.UpdateCVPath(ctx, app.ID, key)
	if err != nil {
		s.logger.Error("履歴書は保存されましたが応募への紐付けに失敗しました",
			slog.String("application_id", app.ID),
			slog.String("path", key),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPartialCompletionError(
			[]string{StepUpload}, []string{StepLink}, err,
		)
	}
	if updated == nil {
		// 保存中に応募が削除された
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Warn("削除済み応募の履歴書の後始末に失敗しました",
				slog.String("application_id", app.ID),
				slog.String("path", key),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, model.NewApplicationNotFoundError(app.ID)
	}

	s.logger.Info("履歴書をアップロードしました",
		slog.String("application_id", app.ID),
		slog.String("path", key),
		slog.Int64("size", f.Size),
	)
	return updated, nil
}

// Download は応募に紐づく履歴書を取得する。Bodyは呼び出し側でCloseすること。
func (s *Service) Download(ctx context.Context, app *model.Application) (*storage.Object, error) {
	if app.CVUsed == nil || *app.CVUsed == "" {
		return nil, model.NewCVNotFoundError(app.ID)
	}

	obj, err := s.store.Get(ctx, *app.CVUsed)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, model.NewCVNotFoundError(app.ID)
	}
	if err != nil {
		return nil, model.NewStorageError(fmt.Errorf("履歴書の取得に失敗しました: %w", err))
	}
	if obj.ContentType == "" {
		obj.ContentType = ContentTypePDF
	}
	return obj, nil
}

// Replace は履歴書を差し替える。
// 新しいファイルの保存と紐付けが完了してから旧ファイルを削除するため、
// 保存に失敗した場合は旧ファイルがそのまま残る。
// 旧ファイルの削除のみ失敗した場合は、新しい履歴書が有効な状態で部分完了エラーを返す。
func (s *Service) Replace(ctx context.Context, app *model.Application, f File) (*model.Application, error) {
	var previous string
	if app.CVUsed != nil {
		previous = *app.CVUsed
	}

	updated, err := s.Upload(ctx, app, f)
	if err != nil {
		return nil, err
	}

	if previous == "" || previous == *updated.CVUsed {
		return updated, nil
	}

	if err := s.store.Delete(ctx, previous); err != nil {
		s.logger.Error("旧履歴書の削除に失敗しました",
			slog.String("application_id", app.ID),
			slog.String("path", previous),
			slog.String("error", err.Error()),
		)
		return nil, model.NewPartialCompletionError(
			[]string{StepUpload, StepLink}, []string{StepRemovePrevious}, err,
		)
	}
	return updated, nil
}

// Remove は応募に紐づく履歴書を削除する。履歴書がない場合は何もしない。
func (s *Service) Remove(ctx context.Context, app *model.Application) error {
	if app.CVUsed == nil || *app.CVUsed == "" {
		return nil
	}
	if err := s.store.Delete(ctx, *app.CVUsed); err != nil {
		return fmt.Errorf("履歴書の削除に失敗しました: %w", err)
	}
	return nil
}
