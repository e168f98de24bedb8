package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hitoshi/ghosted/internal/model"
)

// RateLimitConfig はレート制限の設定を保持する。
type RateLimitConfig struct {
	Requests        int           // ウィンドウあたりの最大リクエスト数
	Window          time.Duration // 固定ウィンドウの長さ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimitConfig はデフォルトのレート制限設定を返す。
// 応募APIは 25 req/60s/user。
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests:        25,
		Window:          60 * time.Second,
		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter はキー単位のレート制限のインターフェース。
// 拒否した場合は次のウィンドウが始まるまでの時間を返す。
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration)
}

// fixedWindow はキー1つ分のウィンドウ状態。
type fixedWindow struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter はプロセス内で完結する固定ウィンドウ方式のレートリミッター。
// 単一インスタンスで運用する場合に使用する。
type MemoryLimiter struct {
	config RateLimitConfig

	mu      sync.Mutex
	windows map[string]*fixedWindow

	now    func() time.Time
	stopCh chan struct{}
	once   sync.Once
}

// NewMemoryLimiter は新しいMemoryLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	l := &MemoryLimiter{
		config:  config,
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。複数回呼び出してもよい。
func (l *MemoryLimiter) Stop() {
	l.once.Do(func() { close(l.stopCh) })
}

// Allow はキーのリクエストを1件数え、上限以内かどうかを返す。
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &fixedWindow{resetAt: now.Add(l.config.Window)}
		l.windows[key] = w
	}

	w.count++
	if w.count > l.config.Requests {
		return false, w.resetAt.Sub(now)
	}
	return true, 0
}

// Len は現在管理されているエントリ数を返す。テスト用。
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (l *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// cleanup はウィンドウが終了したエントリを削除する。
func (l *MemoryLimiter) cleanup() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}

// NewRateLimitMiddleware はユーザー単位のレート制限ミドルウェアを返す。
// 認証ミドルウェアの後に配置すること。
func NewRateLimitMiddleware(limiter Limiter, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			allowed, retryAfter := limiter.Allow(r.Context(), userID)
			if !allowed {
				writeRateLimitResponse(w, retryAfter)
				logger.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("path", r.URL.Path),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーには次のウィンドウが始まるまでの秒数（切り上げ、最小1）を設定する。
func writeRateLimitResponse(w http.ResponseWriter, retryAfter time.Duration) {
	retryAfterSec := int(math.Ceil(retryAfter.Seconds()))
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	json.NewEncoder(w).Encode(map[string]string{
		"code":     "rate_limit_exceeded",
		"message":  "Too many requests. Please try again later.",
		"category": "system",
		"action":   "Please wait and retry after the specified time.",
	})
}
