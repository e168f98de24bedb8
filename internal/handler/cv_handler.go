package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/hitoshi/ghosted/internal/cv"
	"github.com/hitoshi/ghosted/internal/middleware"
	"github.com/hitoshi/ghosted/internal/model"
	"github.com/hitoshi/ghosted/internal/storage"
)

const (
	// cvFormField は履歴書ファイルのmultipartフィールド名。
	cvFormField = "cv"
	// maxCVRequestBytes はmultipartのヘッダー類を含めたリクエストボディの上限。
	maxCVRequestBytes = cv.MaxSize + 1<<20
)

// CVServiceInterface は履歴書ハンドラーが必要とするサービスインターフェース。
type CVServiceInterface interface {
	Upload(ctx context.Context, app *model.Application, f cv.File) (*model.Application, error)
	Download(ctx context.Context, app *model.Application) (*storage.Object, error)
	Replace(ctx context.Context, app *model.Application, f cv.File) (*model.Application, error)
}

// CVHandler は履歴書ファイルのHTTPハンドラー。
// すべてのルートはRequireOwnershipの内側で使用する。
type CVHandler struct {
	service CVServiceInterface
	logger  *slog.Logger
}

// NewCVHandler はCVHandlerを生成する。
func NewCVHandler(service CVServiceInterface, logger *slog.Logger) *CVHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CVHandler{service: service, logger: logger}
}

// UploadCV は応募に履歴書をアップロードする。
// POST /v1/job-application/{id}/cv
func (h *CVHandler) UploadCV(w http.ResponseWriter, r *http.Request) {
	h.store(w, r, http.StatusCreated, "CV uploaded successfully", h.service.Upload)
}

// ReplaceCV は応募の履歴書を差し替える。
// PUT /v1/job-application/cv/{id}
func (h *CVHandler) ReplaceCV(w http.ResponseWriter, r *http.Request) {
	h.store(w, r, http.StatusOK, "CV updated successfully", h.service.Replace)
}

func (h *CVHandler) store(
	w http.ResponseWriter,
	r *http.Request,
	statusCode int,
	message string,
	op func(ctx context.Context, app *model.Application, f cv.File) (*model.Application, error),
) {
	app, ok := applicationFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCVRequestBytes)
	if err := r.ParseMultipartForm(cv.MaxSize); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			handleServiceError(w, model.NewInvalidFileError("ファイルサイズが5MBを超えています"))
			return
		}
		handleServiceError(w, model.NewInvalidFileError("multipart/form-dataとして解析できません"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(cvFormField)
	if err != nil {
		handleServiceError(w, model.NewInvalidFileError("「cv」フィールドにファイルがありません"))
		return
	}
	defer file.Close()

	f := cv.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}
	if err := cv.Validate(f); err != nil {
		handleServiceError(w, err)
		return
	}

	updated, err := op(r.Context(), app, f)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	var path string
	if updated.CVUsed != nil {
		path = *updated.CVUsed
	}
	writeJSON(w, statusCode, cvResponse{
		Message:     message,
		Path:        path,
		Application: newApplicationResponse(updated),
	})
}

// DownloadCV は応募に紐づく履歴書をストリーミングで返す。
// GET /v1/job-application/cv/download/{id}
func (h *CVHandler) DownloadCV(w http.ResponseWriter, r *http.Request) {
	app, ok := applicationFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	obj, err := h.service.Download(r.Context(), app)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer obj.Body.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": cv.FileName(*app.CVUsed),
	}))
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, obj.Body); err != nil {
		// ヘッダー送信後のため、ログのみ出力する
		h.logger.Warn("履歴書の送信が中断されました",
			slog.String("application_id", app.ID),
			slog.String("error", err.Error()),
		)
	}
}
