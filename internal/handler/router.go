package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/ghosted/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	TokenVerifier      middleware.TokenVerifier
	CORSAllowedOrigins []string
	RateLimiter        middleware.Limiter
	HTTPMetrics        middleware.HTTPRecorder

	// 応募・履歴書
	ApplicationService ApplicationServiceInterface
	CVService          CVServiceInterface

	// バッチ起動
	NudgeRunner        NudgeRunner
	NudgeTriggerSecret string

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → CORS → (/v1) Auth → (/v1/job-application) RateLimit
//
// /health、/metrics、/jobs/*は認証ミドルウェアの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	appHandler := NewApplicationHandler(deps.ApplicationService)
	cvHandler := NewCVHandler(deps.CVService, logger)
	owned := RequireOwnership(deps.ApplicationService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.NudgeRunner != nil {
		r.Handle("/jobs/ghosted-nudges", NewNudgeHandler(deps.NudgeRunner, deps.NudgeTriggerSecret, logger))
	}

	// --- 認証が必要なルート ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier, logger))

		r.Get("/", appHandler.Me)
		r.Get("/stats", appHandler.Stats)

		// 応募管理（ユーザー単位のレート制限）
		r.Route("/job-application", func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(middleware.NewRateLimitMiddleware(deps.RateLimiter, logger))
			}

			r.Get("/", appHandler.ListApplications)
			r.Post("/", appHandler.CreateApplication)

			// 履歴書
			r.With(owned).Get("/cv/download/{id}", cvHandler.DownloadCV)
			r.With(owned).Put("/cv/{id}", cvHandler.ReplaceCV)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(owned)
				r.Get("/", appHandler.GetApplication)
				r.Put("/", appHandler.UpdateApplication)
				r.Delete("/", appHandler.DeleteApplication)
				r.Post("/cv", cvHandler.UploadCV)
			})
		})
	})

	return r
}
