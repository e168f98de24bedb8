package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// rateLimitScript は固定ウィンドウのカウンタを1増やし、{許可(1)/拒否(0), 残りミリ秒}を返す。
// 最初のリクエストでのみ有効期限を設定する。
const rateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if current > tonumber(ARGV[2]) then
  return {0, ttl}
end
return {1, ttl}
`

const (
	redisKeyPrefix    = "ghosted:ratelimit:"
	redisLimitTimeout = 250 * time.Millisecond
)

// RedisLimiter はRedisを使用した固定ウィンドウ方式のレートリミッター。
// 複数インスタンス間で上限を共有する。Redisに到達できない場合は許可する。
type RedisLimiter struct {
	client redis.Scripter
	script *redis.Script
	config RateLimitConfig
	logger *slog.Logger
}

// NewRedisLimiter はRedisLimiterを生成する。
func NewRedisLimiter(client redis.Scripter, config RateLimitConfig, logger *slog.Logger) *RedisLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLimiter{
		client: client,
		script: redis.NewScript(rateLimitScript),
		config: config,
		logger: logger,
	}
}

// Allow はキーのリクエストを1件数え、上限以内かどうかを返す。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l == nil || l.client == nil || key == "" || l.config.Requests <= 0 {
		return true, 0
	}

	ttl := l.config.Window.Milliseconds()
	if ttl <= 0 {
		ttl = 1
	}

	ctx, cancel := context.WithTimeout(ctx, redisLimitTimeout)
	defer cancel()

	res, err := l.script.Run(ctx, l.client, []string{redisKeyPrefix + key}, ttl, l.config.Requests).Int64Slice()
	if err != nil || len(res) != 2 {
		l.logger.Warn("レート制限の判定に失敗したためリクエストを許可します",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return true, 0
	}

	if res[0] == 1 {
		return true, 0
	}
	retryAfter := time.Duration(res[1]) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = l.config.Window
	}
	return false, retryAfter
}

// compile-time interface check
var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = (*RedisLimiter)(nil)
)
