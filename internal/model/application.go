package model

import (
	"encoding/json"
	"time"
)

// Status は応募の選考ステータスを表す。
type Status string

const (
	StatusApplied      Status = "applied"
	StatusScreening    Status = "screening"
	StatusInterviewing Status = "interviewing"
	StatusOffer        Status = "offer"
	StatusRejected     Status = "rejected"
	StatusGhosted      Status = "ghosted"
)

// Statuses は有効なステータスの一覧。DBのCHECK制約と同じ順序で並べる。
var Statuses = []Status{
	StatusApplied,
	StatusScreening,
	StatusInterviewing,
	StatusOffer,
	StatusRejected,
	StatusGhosted,
}

// NudgeableStatuses は催促メールの対象となる「選考中」ステータス。
var NudgeableStatuses = []Status{
	StatusApplied,
	StatusScreening,
	StatusInterviewing,
}

// Valid はステータスが定義済みの値かどうかを返す。
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// DateLayout は応募日（applied_at）のワイヤーフォーマット。
const DateLayout = "2006-01-02"

// Application はユーザーが登録した1件の求人応募を表す。
type Application struct {
	ID              string
	UserID          string
	Company         string
	JobTitle        string
	Status          Status
	AppliedThrough  *string
	Link            *string
	Location        *string
	SalaryRange     *string
	CVUsed          *string
	AppliedAt       time.Time
	StatusUpdatedAt *time.Time
	LastNudgeSentAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OwnedBy は応募が指定ユーザーの所有かどうかを返す。
func (a *Application) OwnedBy(userID string) bool {
	return a != nil && userID != "" && a.UserID == userID
}

// ApplicationPatch は応募の部分更新内容を表す。
// nilまたは未指定のフィールドは変更しない。
type ApplicationPatch struct {
	Company         *string
	JobTitle        *string
	Status          *Status
	AppliedThrough  OptionalString
	Link            OptionalString
	Location        OptionalString
	SalaryRange     OptionalString
	CVUsed          OptionalString
	AppliedAt       *time.Time
	StatusUpdatedAt *time.Time
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (p ApplicationPatch) IsEmpty() bool {
	return p.Company == nil &&
		p.JobTitle == nil &&
		p.Status == nil &&
		!p.AppliedThrough.Set &&
		!p.Link.Set &&
		!p.Location.Set &&
		!p.SalaryRange.Set &&
		!p.CVUsed.Set &&
		p.AppliedAt == nil &&
		p.StatusUpdatedAt == nil
}

// OptionalString はJSONの「未指定」「null」「値あり」を区別する文字列。
// PUTの部分更新でnullによるクリアと未指定を判別するために使用する。
type OptionalString struct {
	Set   bool
	Valid bool
	Value string
}

// SomeString は値ありのOptionalStringを返す。
func SomeString(v string) OptionalString {
	return OptionalString{Set: true, Valid: true, Value: v}
}

// NullString はnull指定のOptionalStringを返す。
func NullString() OptionalString {
	return OptionalString{Set: true}
}

// UnmarshalJSON はjson.Unmarshalerを実装する。
// nullの場合もencoding/jsonから呼び出される。
func (o *OptionalString) UnmarshalJSON(b []byte) error {
	o.Set = true
	if string(b) == "null" {
		o.Valid = false
		o.Value = ""
		return nil
	}
	if err := json.Unmarshal(b, &o.Value); err != nil {
		return err
	}
	o.Valid = true
	return nil
}

// Ptr は値ありの場合のみ文字列ポインタを返す。
func (o OptionalString) Ptr() *string {
	if !o.Set || !o.Valid {
		return nil
	}
	v := o.Value
	return &v
}

// StatItem はダッシュボードの統計カード1枚分を表す。
type StatItem struct {
	Label string `json:"label"`
	Value int    `json:"value"`
	Color string `json:"color"`
}
