package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/ghosted/internal/model"
)

// AdminClient はSupabase Authの管理APIクライアント。
// サービスロールキーを使用するため、サーバー内部の処理からのみ呼び出すこと。
type AdminClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // 例: https://xxxx.supabase.co
	serviceKey string
}

// NewAdminClient はAdminClientを生成する。
func NewAdminClient(httpClient *http.Client, logger *slog.Logger, baseURL, serviceKey string) *AdminClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &AdminClient{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
	}
}

// adminUserResponse は管理APIのユーザー取得レスポンスのうち使用するフィールド。
type adminUserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FindByID は指定IDのユーザーを取得する。存在しない場合はnilを返す。
func (c *AdminClient) FindByID(ctx context.Context, id string) (*model.User, error) {
	endpoint := c.baseURL + "/auth/v1/admin/users/" + url.PathEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Supabase管理APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
			slog.String("user_id", id),
		)
		return nil, fmt.Errorf("ユーザー取得リクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Supabase管理APIが予期しないステータスを返しました: %d", resp.StatusCode)
	}

	var body adminUserResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("ユーザー情報のデコードに失敗しました: %w", err)
	}

	return &model.User{
		ID:        body.ID,
		Email:     body.Email,
		Role:      body.Role,
		CreatedAt: body.CreatedAt,
		UpdatedAt: body.UpdatedAt,
	}, nil
}
