package handler

import (
	"time"

	"github.com/hitoshi/ghosted/internal/model"
)

// applicationResponse は応募のAPIレスポンス。
type applicationResponse struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Company         string     `json:"company"`
	JobTitle        string     `json:"job_title"`
	Status          string     `json:"status"`
	AppliedThrough  *string    `json:"applied_through"`
	Link            *string    `json:"link"`
	Location        *string    `json:"location"`
	SalaryRange     *string    `json:"salary_range"`
	CVUsed          *string    `json:"cv_used"`
	AppliedAt       string     `json:"applied_at"`
	StatusUpdatedAt *time.Time `json:"status_updated_at"`
	LastNudgeSentAt *time.Time `json:"last_nudge_sent_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func newApplicationResponse(app *model.Application) applicationResponse {
	return applicationResponse{
		ID:              app.ID,
		UserID:          app.UserID,
		Company:         app.Company,
		JobTitle:        app.JobTitle,
		Status:          string(app.Status),
		AppliedThrough:  app.AppliedThrough,
		Link:            app.Link,
		Location:        app.Location,
		SalaryRange:     app.SalaryRange,
		CVUsed:          app.CVUsed,
		AppliedAt:       app.AppliedAt.Format(model.DateLayout),
		StatusUpdatedAt: app.StatusUpdatedAt,
		LastNudgeSentAt: app.LastNudgeSentAt,
		CreatedAt:       app.CreatedAt,
		UpdatedAt:       app.UpdatedAt,
	}
}

func newApplicationListResponse(apps []*model.Application) []applicationResponse {
	out := make([]applicationResponse, 0, len(apps))
	for _, app := range apps {
		out = append(out, newApplicationResponse(app))
	}
	return out
}

// cvResponse は履歴書アップロード・差し替えのAPIレスポンス。
type cvResponse struct {
	Message     string              `json:"message"`
	Path        string              `json:"path"`
	Application applicationResponse `json:"application"`
}
