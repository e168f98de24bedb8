package application

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/hitoshi/ghosted/internal/model"
	"github.com/hitoshi/ghosted/internal/security"
)

// CreateInput は応募作成リクエストの入力。
type CreateInput struct {
	Company        string               `json:"company" validate:"required,max=200"`
	JobTitle       string               `json:"job_title" validate:"required,max=200"`
	Status         string               `json:"status" validate:"omitempty,status"`
	AppliedThrough model.OptionalString `json:"applied_through" validate:"omitempty,max=200"`
	Link           model.OptionalString `json:"link" validate:"omitempty,max=2048,weblink"`
	Location       model.OptionalString `json:"location" validate:"omitempty,max=200"`
	SalaryRange    model.OptionalString `json:"salary_range" validate:"omitempty,max=100"`
	AppliedAt      model.OptionalString `json:"applied_at" validate:"omitempty,datetime=2006-01-02"`
	CVUsed         model.OptionalString `json:"cv_used" validate:"omitempty,max=1024"`
}

// UpdateInput は応募更新リクエストの入力。未指定のフィールドは変更しない。
// nullを受け付けるフィールドはnullで値をクリアする。
type UpdateInput struct {
	Company        *string              `json:"company" validate:"omitempty,min=1,max=200"`
	JobTitle       *string              `json:"job_title" validate:"omitempty,min=1,max=200"`
	Status         *string              `json:"status" validate:"omitempty,status"`
	AppliedThrough model.OptionalString `json:"applied_through" validate:"omitempty,max=200"`
	Link           model.OptionalString `json:"link" validate:"omitempty,max=2048,weblink"`
	Location       model.OptionalString `json:"location" validate:"omitempty,max=200"`
	SalaryRange    model.OptionalString `json:"salary_range" validate:"omitempty,max=100"`
	AppliedAt      model.OptionalString `json:"applied_at" validate:"omitempty,datetime=2006-01-02"`
	CVUsed         model.OptionalString `json:"cv_used" validate:"omitempty,max=1024"`
}

// newValidator は応募入力用のvalidatorを生成する。
// エラーのフィールド名にはJSONのキー名を使用する。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// OptionalStringはnull・未指定を空として扱い、値ありの場合のみ中身を検証する
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		o, ok := field.Interface().(model.OptionalString)
		if !ok || !o.Valid {
			return ""
		}
		return o.Value
	}, model.OptionalString{})

	// 登録に失敗するのはタグ名が空の場合のみ
	_ = v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return model.Status(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("weblink", func(fl validator.FieldLevel) bool {
		return security.ValidateLink(fl.Field().String()) == nil
	})

	return v
}

// toValidationError はvalidatorのエラーを入力検証エラーに変換する。
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return model.NewInvalidRequestError(err.Error())
	}

	fields := make([]model.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, model.FieldError{
			Field:   fe.Field(),
			Message: fieldMessage(fe),
		})
	}
	return model.NewValidationError(fields)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "必須項目です"
	case "min":
		return fmt.Sprintf("%s文字以上で入力してください", fe.Param())
	case "max":
		return fmt.Sprintf("%s文字以内で入力してください", fe.Param())
	case "status":
		return fmt.Sprintf("ステータスは %s のいずれかを指定してください", statusList())
	case "weblink":
		return "http または https のURLを入力してください"
	case "datetime":
		return "YYYY-MM-DD形式の日付を入力してください"
	default:
		return "値が不正です"
	}
}

func statusList() string {
	names := make([]string, len(model.Statuses))
	for i, s := range model.Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// sanitizeOptional は値ありのOptionalStringのみサニタイズする。
func sanitizeOptional(s *security.TextSanitizer, o model.OptionalString) model.OptionalString {
	if !o.Valid {
		return o
	}
	o.Value = s.Sanitize(o.Value)
	return o
}

// sanitize は自由記述フィールドからマークアップを除去する。
func (in CreateInput) sanitize(s *security.TextSanitizer) CreateInput {
	in.Company = s.Sanitize(in.Company)
	in.JobTitle = s.Sanitize(in.JobTitle)
	in.AppliedThrough = sanitizeOptional(s, in.AppliedThrough)
	in.Location = sanitizeOptional(s, in.Location)
	in.SalaryRange = sanitizeOptional(s, in.SalaryRange)
	in.Link = trimOptional(in.Link)
	in.AppliedAt = trimOptional(in.AppliedAt)
	in.Status = strings.TrimSpace(in.Status)
	return in
}

// sanitize は自由記述フィールドからマークアップを除去する。
func (in UpdateInput) sanitize(s *security.TextSanitizer) UpdateInput {
	in.Company = s.SanitizePtr(in.Company)
	in.JobTitle = s.SanitizePtr(in.JobTitle)
	in.AppliedThrough = sanitizeOptional(s, in.AppliedThrough)
	in.Location = sanitizeOptional(s, in.Location)
	in.SalaryRange = sanitizeOptional(s, in.SalaryRange)
	in.Link = trimOptional(in.Link)
	in.AppliedAt = trimOptional(in.AppliedAt)
	if in.Status != nil {
		v := strings.TrimSpace(*in.Status)
		in.Status = &v
	}
	return in
}

func trimOptional(o model.OptionalString) model.OptionalString {
	if o.Valid {
		o.Value = strings.TrimSpace(o.Value)
	}
	return o
}

// emptyAsNull は空文字の値をnullとして扱う。
func emptyAsNull(o model.OptionalString) model.OptionalString {
	if o.Valid && o.Value == "" {
		return model.NullString()
	}
	return o
}
