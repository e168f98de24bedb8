package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/ghosted/internal/application"
	"github.com/hitoshi/ghosted/internal/auth"
	"github.com/hitoshi/ghosted/internal/cv"
	"github.com/hitoshi/ghosted/internal/middleware"
	"github.com/hitoshi/ghosted/internal/model"
	"github.com/hitoshi/ghosted/internal/storage"
)

// --- モック定義 ---

// mockApplicationService はApplicationServiceInterfaceのモック実装。
type mockApplicationService struct {
	listFn   func(ctx context.Context, p auth.Principal) ([]*model.Application, error)
	getFn    func(ctx context.Context, p auth.Principal, id string) (*model.Application, error)
	createFn func(ctx context.Context, p auth.Principal, in application.CreateInput) (*model.Application, error)
	updateFn func(ctx context.Context, p auth.Principal, id string, in application.UpdateInput) (*model.Application, error)
	deleteFn func(ctx context.Context, p auth.Principal, app *model.Application) error
	statsFn  func(ctx context.Context, p auth.Principal) ([]model.StatItem, error)
}

func (m *mockApplicationService) List(ctx context.Context, p auth.Principal) ([]*model.Application, error) {
	if m.listFn != nil {
		return m.listFn(ctx, p)
	}
	return []*model.Application{}, nil
}

func (m *mockApplicationService) Get(ctx context.Context, p auth.Principal, id string) (*model.Application, error) {
	if m.getFn != nil {
		return m.getFn(ctx, p, id)
	}
	return nil, model.NewApplicationNotFoundError(id)
}

func (m *mockApplicationService) Create(ctx context.Context, p auth.Principal, in application.CreateInput) (*model.Application, error) {
	if m.createFn != nil {
		return m.createFn(ctx, p, in)
	}
	return nil, nil
}

func (m *mockApplicationService) Update(ctx context.Context, p auth.Principal, id string, in application.UpdateInput) (*model.Application, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, p, id, in)
	}
	return nil, nil
}

func (m *mockApplicationService) Delete(ctx context.Context, p auth.Principal, app *model.Application) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, p, app)
	}
	return nil
}

func (m *mockApplicationService) Stats(ctx context.Context, p auth.Principal) ([]model.StatItem, error) {
	if m.statsFn != nil {
		return m.statsFn(ctx, p)
	}
	return nil, nil
}

// mockCVService はCVServiceInterfaceのモック実装。
type mockCVService struct {
	uploadFn   func(ctx context.Context, app *model.Application, f cv.File) (*model.Application, error)
	downloadFn func(ctx context.Context, app *model.Application) (*storage.Object, error)
	replaceFn  func(ctx context.Context, app *model.Application, f cv.File) (*model.Application, error)
}

func (m *mockCVService) Upload(ctx context.Context, app *model.Application, f cv.File) (*model.Application, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, app, f)
	}
	return app, nil
}

func (m *mockCVService) Download(ctx context.Context, app *model.Application) (*storage.Object, error) {
	if m.downloadFn != nil {
		return m.downloadFn(ctx, app)
	}
	return nil, model.NewCVNotFoundError(app.ID)
}

func (m *mockCVService) Replace(ctx context.Context, app *model.Application, f cv.File) (*model.Application, error) {
	if m.replaceFn != nil {
		return m.replaceFn(ctx, app, f)
	}
	return app, nil
}

// tokenIsUserID はトークン文字列をそのままユーザーIDとして扱う検証器。
// "invalid"は検証失敗とする。
type tokenIsUserID struct{}

func (tokenIsUserID) Verify(ctx context.Context, rawToken string) (auth.Principal, error) {
	if rawToken == "invalid" {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	return auth.Principal{UserID: rawToken, Email: rawToken + "@example.com", Role: "authenticated"}, nil
}

// --- ヘルパー ---

var testTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func strPtr(s string) *string { return &s }

func testApp(id, userID string) *model.Application {
	return &model.Application{
		ID:        id,
		UserID:    userID,
		Company:   "Acme",
		JobTitle:  "Backend Engineer",
		Status:    model.StatusApplied,
		AppliedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

// ownedGetter は指定した応募を所有者チェック付きで返すgetFnを生成する。
func ownedGetter(apps ...*model.Application) func(ctx context.Context, p auth.Principal, id string) (*model.Application, error) {
	return func(ctx context.Context, p auth.Principal, id string) (*model.Application, error) {
		for _, app := range apps {
			if app.ID != id {
				continue
			}
			if !app.OwnedBy(p.UserID) {
				return nil, model.NewForbiddenError()
			}
			return app, nil
		}
		return nil, model.NewApplicationNotFoundError(id)
	}
}

type testRouterOption func(*RouterDeps)

func newTestRouter(t *testing.T, appSvc *mockApplicationService, cvSvc *mockCVService, opts ...testRouterOption) http.Handler {
	t.Helper()
	var buf bytes.Buffer
	if appSvc == nil {
		appSvc = &mockApplicationService{}
	}
	if cvSvc == nil {
		cvSvc = &mockCVService{}
	}
	deps := &RouterDeps{
		Logger:             newTestLogger(&buf),
		TokenVerifier:      tokenIsUserID{},
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		ApplicationService: appSvc,
		CVService:          cvSvc,
	}
	for _, opt := range opts {
		opt(deps)
	}
	return NewRouter(deps)
}

func doRequest(router http.Handler, method, path, userID string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+userID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}
