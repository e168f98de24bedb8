package handler

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/hitoshi/ghosted/internal/worker/nudge"
)

// triggerSecretHeader はバッチ起動用の共有シークレットを渡すヘッダー。
const triggerSecretHeader = "X-Trigger-Secret"

// NudgeRunner は催促メールのバッチを1回実行する。
type NudgeRunner interface {
	Run(ctx context.Context) (*nudge.Result, error)
}

// NudgeHandler は外部スケジューラーからバッチを起動するHTTPハンドラー。
type NudgeHandler struct {
	runner NudgeRunner
	secret string
	logger *slog.Logger
}

// NewNudgeHandler はNudgeHandlerを生成する。secretが空の場合は認証なしで起動できる。
func NewNudgeHandler(runner NudgeRunner, secret string, logger *slog.Logger) *NudgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NudgeHandler{runner: runner, secret: secret, logger: logger}
}

// nudgeResponse はバッチ起動のAPIレスポンス。
type nudgeResponse struct {
	OK     bool          `json:"ok"`
	Result *nudge.Result `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// ServeHTTP はPOSTでのみバッチを実行する。
// POST /jobs/ghosted-nudges
func (h *NudgeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, nudgeResponse{OK: false, Error: "Method Not Allowed"})
		return
	}

	if h.secret != "" {
		got := r.Header.Get(triggerSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("バッチ起動のシークレットが一致しません",
				slog.String("remote_addr", r.RemoteAddr),
			)
			writeJSON(w, http.StatusUnauthorized, nudgeResponse{OK: false, Error: "Unauthorized"})
			return
		}
	}

	result, err := h.runner.Run(r.Context())
	if err != nil {
		h.logger.Error("催促メールのバッチが失敗しました", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, nudgeResponse{OK: false, Error: "nudge run failed"})
		return
	}

	writeJSON(w, http.StatusOK, nudgeResponse{OK: true, Result: result})
}
