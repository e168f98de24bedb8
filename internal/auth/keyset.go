package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// maxJWKSBodySize はJWKSレスポンスの最大サイズ。
	maxJWKSBodySize = 1 << 20

	defaultKeySetMaxAge = 10 * time.Minute
)

// refreshKey は同時に発生したJWKS取得を1回にまとめるためのsingleflightキー。
const refreshKey = "jwks"

// ErrKeyNotFound は指定されたkidの公開鍵がJWKSに存在しないことを表す。
var ErrKeyNotFound = errors.New("signing key not found")

// RefreshRecorder はJWKS取得結果を記録するメトリクスのインターフェース。
type RefreshRecorder interface {
	RecordJWKSRefresh(success bool)
}

// KeySetConfig はKeySetCacheの設定。
type KeySetConfig struct {
	URL              string
	MaxAge           time.Duration // キャッシュの有効期間
	RefreshPerMinute int           // 1分あたりのJWKS取得上限
	HTTPClient       *http.Client
	Logger           *slog.Logger
	Metrics          RefreshRecorder
}

// KeySetCache はIdPのJWKSを取得・保持する。
// 初回の検証時に遅延取得し、MaxAgeを過ぎるか未知のkidを受け取ったときに再取得する。
// 再取得はレートリミッターで上限を設け、取得に失敗した場合は手元の鍵セットを使い続ける。
// 取得中もキャッシュ済みの鍵による検証はブロックされず、同時の取得要求は1回のリクエストにまとめる。
type KeySetCache struct {
	url        string
	maxAge     time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *slog.Logger
	metrics    RefreshRecorder
	now        func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	set       jwk.Set
	fetchedAt time.Time
}

// NewKeySetCache はKeySetCacheを生成する。ネットワークアクセスは行わない。
func NewKeySetCache(cfg KeySetConfig) *KeySetCache {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultKeySetMaxAge
	}
	perMinute := cfg.RefreshPerMinute
	if perMinute <= 0 {
		perMinute = 5
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &KeySetCache{
		url:        cfg.URL,
		maxAge:     maxAge,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		httpClient: client,
		logger:     logger,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
}

// LookupKey はkidに対応する公開鍵（*ecdsa.PublicKey、*rsa.PublicKey等）を返す。
func (c *KeySetCache) LookupKey(ctx context.Context, kid string) (any, error) {
	set, fetchedAt := c.snapshot()

	refreshed := false
	if set == nil || c.now().Sub(fetchedAt) > c.maxAge {
		fresh, err := c.refresh(ctx)
		if err != nil {
			if set == nil {
				return nil, err
			}
			c.logger.Warn("JWKSの再取得に失敗したため、キャッシュ済みの鍵セットを使用します",
				slog.String("error", err.Error()),
			)
		} else {
			set = fresh
			refreshed = true
		}
	}

	key, ok := set.LookupKeyID(kid)
	if !ok && !refreshed {
		// 鍵ローテーション直後の可能性があるため、上限内で1回だけ再取得する
		if fresh, err := c.refresh(ctx); err == nil {
			key, ok = fresh.LookupKeyID(kid)
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: kid=%s", ErrKeyNotFound, kid)
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("公開鍵の展開に失敗しました: %w", err)
	}
	return raw, nil
}

func (c *KeySetCache) snapshot() (jwk.Set, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.set, c.fetchedAt
}

// refresh はJWKSを取得してキャッシュを置き換え、新しい鍵セットを返す。
// 同時に呼ばれた場合は実行中の取得結果を共有する。取得は呼び出し元のキャンセルに影響されないが、
// 呼び出し元はctxの終了時点で待機をやめる。
func (c *KeySetCache) refresh(ctx context.Context) (jwk.Set, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		if !c.limiter.Allow() {
			return nil, errors.New("JWKSの取得回数が上限に達しています")
		}

		set, err := c.fetch(context.WithoutCancel(ctx))
		if c.metrics != nil {
			c.metrics.RecordJWKSRefresh(err == nil)
		}
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.set = set
		c.fetchedAt = c.now()
		c.mu.Unlock()

		c.logger.Info("JWKSを取得しました",
			slog.String("url", c.url),
			slog.Int("keys", set.Len()),
		)
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(jwk.Set), nil
	}
}

func (c *KeySetCache) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("JWKSリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("JWKSの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKSエンドポイントが予期しないステータスを返しました: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBodySize))
	if err != nil {
		return nil, fmt.Errorf("JWKSレスポンスの読み取りに失敗しました: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("JWKSのパースに失敗しました: %w", err)
	}
	return set, nil
}
