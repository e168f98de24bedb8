package nudge

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/hitoshi/ghosted/internal/model"
)

var emailTemplate = template.Must(template.New("nudge").Parse(`<div style="font-family: ui-sans-serif, system-ui, -apple-system, Segoe UI, Roboto; line-height: 1.5;">
  <h2>Still waiting on some applications?</h2>
  <p>It's been over a week since you last updated these:</p>
  <ul>{{range .Applications}}
    <li><strong>{{.Company}}</strong> &mdash; {{.JobTitle}} <span style="color:#666">(status: {{.Status}})</span></li>{{end}}
  </ul>
  <p style="margin-top:16px;">
    <a href="{{.DashboardURL}}" style="display:inline-block;padding:10px 14px;background:#111827;color:#fff;text-decoration:none;border-radius:8px;">Review in Ghosted</a>
  </p>
  <p style="color:#666;font-size:12px;margin-top:18px;">You're receiving this because you have job applications tracked in Ghosted.</p>
</div>
`))

type emailData struct {
	Applications []*model.Application
	DashboardURL string
}

// dashboardURL はメール内リンクの遷移先を返す。
func dashboardURL(appURL string) string {
	return strings.TrimRight(appURL, "/") + "/dashboard"
}

// subject はメールの件名を返す。件数が1件の場合は単数形にする。
func subject(n int) string {
	if n == 1 {
		return "Ghosted: still waiting on 1 application?"
	}
	return fmt.Sprintf("Ghosted: still waiting on %d applications?", n)
}

// renderEmail はユーザー1人分のナッジメール本文を生成する。
// 会社名などのユーザー入力はhtml/templateによりエスケープされる。
func renderEmail(apps []*model.Application, appURL string) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, emailData{
		Applications: apps,
		DashboardURL: dashboardURL(appURL),
	})
	if err != nil {
		return "", fmt.Errorf("メール本文の生成に失敗しました: %w", err)
	}
	return buf.String(), nil
}
