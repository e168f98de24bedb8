// Package nudge は選考状況が長期間更新されていない応募について、
// ユーザーに確認を促すメール（ナッジ）を送信するバッチ処理を提供する。
package nudge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/ghosted/internal/mailer"
	"github.com/hitoshi/ghosted/internal/metrics"
	"github.com/hitoshi/ghosted/internal/model"
	"github.com/hitoshi/ghosted/internal/repository"
)

const (
	defaultStaleAfter     = 7 * 24 * time.Hour
	defaultCooldown       = 7 * 24 * time.Hour
	defaultMaxConcurrency = 4
)

// ReasonNoCandidates は対象の応募が1件もなかったことを表す。
const ReasonNoCandidates = "no_candidates"

// UserFinder はユーザーIDから送信先メールアドレスを解決する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// Recorder はジョブのメトリクス記録インターフェース。
type Recorder interface {
	RecordNudgeEmail(success bool)
	RecordNudgeRun(outcome string)
}

// Config はJobの設定。
type Config struct {
	StaleAfter     time.Duration // この期間ステータスが更新されていない応募が対象
	Cooldown       time.Duration // 前回のナッジからこの期間は再送しない
	AppURL         string        // メール内リンクのベースURL
	MaxConcurrency int           // 同時に送信するメールの最大数
}

// Result はジョブ1回分の実行結果。
type Result struct {
	Candidates   int    `json:"candidates"`
	EmailedUsers int    `json:"emailedUsers"`
	SkippedUsers int    `json:"skippedUsers"`
	FailedUsers  int    `json:"failedUsers"`
	UpdatedApps  int64  `json:"updatedApps"`
	Reason       string `json:"reason,omitempty"`
}

// userBatch はユーザー1人分の送信対象。
type userBatch struct {
	userID string
	apps   []*model.Application
	sent   bool
}

// Job はナッジメール送信ジョブ。
type Job struct {
	repo    repository.ApplicationRepository
	users   UserFinder
	mailer  mailer.Mailer
	cfg     Config
	logger  *slog.Logger
	metrics Recorder
	now     func() time.Time
}

// NewJob はJobの新しいインスタンスを生成する。
// Configの未設定項目にはデフォルト値（7日・7日・並列数4）を使用する。
func NewJob(
	repo repository.ApplicationRepository,
	users UserFinder,
	m mailer.Mailer,
	cfg Config,
	logger *slog.Logger,
	rec Recorder,
) *Job {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		repo:    repo,
		users:   users,
		mailer:  m,
		cfg:     cfg,
		logger:  logger,
		metrics: rec,
		now:     time.Now,
	}
}

// Run はジョブを1回実行する。
//
// 選考中（applied/screening/interviewing）のまま一定期間更新がなく、
// クールダウン期間内にナッジしていない応募をユーザーごとにまとめ、1人1通のメールを送る。
// 送信に失敗したユーザーはログに記録して次のユーザーへ進み、その応募は送信済みにしない。
// DBの読み書きに失敗した場合はエラーを返す。
func (j *Job) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	now := j.now().UTC()

	apps, err := j.repo.ListStaleForNudge(ctx,
		model.NudgeableStatuses,
		now.Add(-j.cfg.StaleAfter),
		now.Add(-j.cfg.Cooldown),
	)
	if err != nil {
		j.recordRun(metrics.OutcomeFailure)
		return nil, fmt.Errorf("ナッジ候補の取得に失敗しました: %w", err)
	}

	result := &Result{Candidates: len(apps)}
	if len(apps) == 0 {
		result.Reason = ReasonNoCandidates
		j.logger.Info("ナッジ対象の応募はありません")
		j.recordRun(metrics.OutcomeEmpty)
		return result, nil
	}

	batches := groupByUser(apps)
	j.logger.Info("ナッジメールの送信を開始します",
		slog.Int("candidates", len(apps)),
		slog.Int("users", len(batches)),
	)

	j.sendAll(ctx, batches, result)

	var ids []string
	for _, b := range batches {
		if !b.sent {
			continue
		}
		for _, a := range b.apps {
			ids = append(ids, a.ID)
		}
	}

	if len(ids) > 0 {
		n, err := j.repo.MarkNudged(ctx, ids, now)
		if err != nil {
			j.recordRun(metrics.OutcomeFailure)
			return nil, fmt.Errorf("最終ナッジ日時の更新に失敗しました: %w", err)
		}
		result.UpdatedApps = n
	}

	j.logger.Info("ナッジメールの送信が完了しました",
		slog.Int("emailed_users", result.EmailedUsers),
		slog.Int("skipped_users", result.SkippedUsers),
		slog.Int("failed_users", result.FailedUsers),
		slog.Int64("updated_apps", result.UpdatedApps),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	j.recordRun(metrics.OutcomeSuccess)
	return result, nil
}

// sendAll はsemaphoreで並列数を制御しながら、ユーザーごとにメールを送信する。
func (j *Job) sendAll(ctx context.Context, batches []*userBatch, result *Result) {
	sem := make(chan struct{}, j.cfg.MaxConcurrency)
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, b := range batches {
		wg.Add(1)
		sem <- struct{}{}

		go func(b *userBatch) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := j.sendOne(ctx, b)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeSent:
				b.sent = true
				result.EmailedUsers++
			case outcomeSkipped:
				result.SkippedUsers++
			case outcomeFailed:
				result.FailedUsers++
			}
		}(b)
	}

	wg.Wait()
}

type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomeSkipped
	outcomeFailed
)

// sendOne はユーザー1人分のメールを送信する。
func (j *Job) sendOne(ctx context.Context, b *userBatch) sendOutcome {
	user, err := j.users.FindByID(ctx, b.userID)
	if err != nil {
		j.logger.Warn("ユーザー情報を取得できないためスキップします",
			slog.String("user_id", b.userID),
			slog.String("error", err.Error()),
		)
		return outcomeSkipped
	}
	if user == nil || user.Email == "" {
		j.logger.Warn("メールアドレスが未登録のためスキップします",
			slog.String("user_id", b.userID),
		)
		return outcomeSkipped
	}

	html, err := renderEmail(b.apps, j.cfg.AppURL)
	if err != nil {
		j.logger.Error("メール本文の生成に失敗しました",
			slog.String("user_id", b.userID),
			slog.String("error", err.Error()),
		)
		return outcomeFailed
	}

	err = j.mailer.Send(ctx, mailer.Message{
		To:      user.Email,
		Subject: subject(len(b.apps)),
		HTML:    html,
	})
	if err != nil {
		j.logger.Error("ナッジメールの送信に失敗しました",
			slog.String("user_id", b.userID),
			slog.Int("applications", len(b.apps)),
			slog.String("error", err.Error()),
		)
		j.recordEmail(false)
		return outcomeFailed
	}

	j.recordEmail(true)
	return outcomeSent
}

// groupByUser は応募をユーザーごとにまとめる。ユーザーの並びは最初に出現した順。
func groupByUser(apps []*model.Application) []*userBatch {
	index := make(map[string]*userBatch)
	var batches []*userBatch
	for _, a := range apps {
		b, ok := index[a.UserID]
		if !ok {
			b = &userBatch{userID: a.UserID}
			index[a.UserID] = b
			batches = append(batches, b)
		}
		b.apps = append(b.apps, a)
	}
	return batches
}

func (j *Job) recordEmail(success bool) {
	if j.metrics != nil {
		j.metrics.RecordNudgeEmail(success)
	}
}

func (j *Job) recordRun(outcome string) {
	if j.metrics != nil {
		j.metrics.RecordNudgeRun(outcome)
	}
}
