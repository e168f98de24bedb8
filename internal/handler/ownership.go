package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ghosted/internal/auth"
	"github.com/hitoshi/ghosted/internal/middleware"
	"github.com/hitoshi/ghosted/internal/model"
)

// ApplicationGetter は所有者チェック付きで応募を1件取得する。
type ApplicationGetter interface {
	Get(ctx context.Context, p auth.Principal, id string) (*model.Application, error)
}

type applicationContextKey struct{}

// RequireOwnership はURLパラメータ{id}の応募を読み込み、呼び出し元の所有であることを確認するミドルウェアを返す。
// 存在しない場合は404、他ユーザーの応募の場合は403を返す。
// 読み込んだ応募はリクエストコンテキストに格納し、applicationFromContextで取り出す。
func RequireOwnership(getter ApplicationGetter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := middleware.PrincipalFromContext(r.Context())
			if !ok {
				middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			app, err := getter.Get(r.Context(), p, chi.URLParam(r, "id"))
			if err != nil {
				handleServiceError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), applicationContextKey{}, app)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// applicationFromContext はRequireOwnershipが読み込んだ応募を返す。
func applicationFromContext(ctx context.Context) (*model.Application, bool) {
	app, ok := ctx.Value(applicationContextKey{}).(*model.Application)
	return app, ok && app != nil
}
