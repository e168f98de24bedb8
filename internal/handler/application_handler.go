package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/ghosted/internal/application"
	"github.com/hitoshi/ghosted/internal/auth"
	"github.com/hitoshi/ghosted/internal/middleware"
	"github.com/hitoshi/ghosted/internal/model"
)

// ApplicationServiceInterface は応募ハンドラーが必要とするサービスインターフェース。
type ApplicationServiceInterface interface {
	ApplicationGetter
	// List は呼び出し元の応募一覧を返す。
	List(ctx context.Context, p auth.Principal) ([]*model.Application, error)
	// Create は呼び出し元を所有者とする応募を作成する。
	Create(ctx context.Context, p auth.Principal, in application.CreateInput) (*model.Application, error)
	// Update は応募を部分更新する。
	Update(ctx context.Context, p auth.Principal, id string, in application.UpdateInput) (*model.Application, error)
	// Delete は応募を削除する。
	Delete(ctx context.Context, p auth.Principal, app *model.Application) error
	// Stats はダッシュボードの統計カードを返す。
	Stats(ctx context.Context, p auth.Principal) ([]model.StatItem, error)
}

// ApplicationHandler は応募管理のHTTPハンドラー。
type ApplicationHandler struct {
	service ApplicationServiceInterface
}

// NewApplicationHandler はApplicationHandlerを生成する。
func NewApplicationHandler(service ApplicationServiceInterface) *ApplicationHandler {
	return &ApplicationHandler{service: service}
}

// principalOrUnauthorized はコンテキストの呼び出し元を返す。存在しない場合は401を書き込む。
func principalOrUnauthorized(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
	}
	return p, ok
}

// Me は検証済みの呼び出し元を返す。
// GET /v1
func (h *ApplicationHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": p})
}

// ListApplications は呼び出し元の応募一覧を返す。0件の場合は空配列を返す。
// GET /v1/job-application
func (h *ApplicationHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	apps, err := h.service.List(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newApplicationListResponse(apps))
}

// CreateApplication は応募を作成する。所有者は常に呼び出し元になる。
// POST /v1/job-application
func (h *ApplicationHandler) CreateApplication(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	var in application.CreateInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, err)
		return
	}

	app, err := h.service.Create(r.Context(), p, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newApplicationResponse(app))
}

// GetApplication は応募を1件返す。RequireOwnershipの内側で使用する。
// GET /v1/job-application/{id}
func (h *ApplicationHandler) GetApplication(w http.ResponseWriter, r *http.Request) {
	app, ok := applicationFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}
	writeJSON(w, http.StatusOK, newApplicationResponse(app))
}

// UpdateApplication は応募を部分更新する。
// PUT /v1/job-application/{id}
func (h *ApplicationHandler) UpdateApplication(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}
	current, ok := applicationFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	var in application.UpdateInput
	if err := decodeJSON(w, r, &in); err != nil {
		handleServiceError(w, err)
		return
	}

	app, err := h.service.Update(r.Context(), p, current.ID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newApplicationResponse(app))
}

// DeleteApplication は応募を削除する。
// DELETE /v1/job-application/{id}
func (h *ApplicationHandler) DeleteApplication(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}
	app, ok := applicationFromContext(r.Context())
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	if err := h.service.Delete(r.Context(), p, app); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stats はダッシュボードの統計カードを返す。
// GET /v1/stats
func (h *ApplicationHandler) Stats(w http.ResponseWriter, r *http.Request) {
	p, ok := principalOrUnauthorized(w, r)
	if !ok {
		return
	}

	stats, err := h.service.Stats(r.Context(), p)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
