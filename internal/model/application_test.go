package model

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStatus_Valid(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusApplied, true},
		{StatusScreening, true},
		{StatusInterviewing, true},
		{StatusOffer, true},
		{StatusRejected, true},
		{StatusGhosted, true},
		{Status("hired"), false},
		{Status(""), false},
		{Status("Applied"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("Status(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestApplication_OwnedBy(t *testing.T) {
	app := &Application{ID: "app-1", UserID: "user-1"}

	if !app.OwnedBy("user-1") {
		t.Error("expected owner to match")
	}
	if app.OwnedBy("user-2") {
		t.Error("expected other user not to match")
	}
	if app.OwnedBy("") {
		t.Error("expected empty user id not to match")
	}

	var nilApp *Application
	if nilApp.OwnedBy("user-1") {
		t.Error("expected nil application not to match")
	}
}

func TestOptionalString_UnmarshalJSON(t *testing.T) {
	var body struct {
		Link    OptionalString `json:"link"`
		CVUsed  OptionalString `json:"cv_used"`
		Missing OptionalString `json:"missing"`
	}

	if err := json.Unmarshal([]byte(`{"link":"https://example.com","cv_used":null}`), &body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !body.Link.Set || !body.Link.Valid || body.Link.Value != "https://example.com" {
		t.Errorf("Link = %+v, want set valid value", body.Link)
	}
	if !body.CVUsed.Set || body.CVUsed.Valid {
		t.Errorf("CVUsed = %+v, want set null", body.CVUsed)
	}
	if body.Missing.Set {
		t.Errorf("Missing = %+v, want unset", body.Missing)
	}
}

func TestOptionalString_UnmarshalJSON_RejectsNonString(t *testing.T) {
	var body struct {
		Link OptionalString `json:"link"`
	}
	if err := json.Unmarshal([]byte(`{"link":123}`), &body); err == nil {
		t.Fatal("expected error for non-string value")
	}
}

func TestOptionalString_Ptr(t *testing.T) {
	if p := SomeString("x").Ptr(); p == nil || *p != "x" {
		t.Errorf("SomeString(x).Ptr() = %v, want pointer to x", p)
	}
	if p := NullString().Ptr(); p != nil {
		t.Errorf("NullString().Ptr() = %v, want nil", p)
	}
	if p := (OptionalString{}).Ptr(); p != nil {
		t.Errorf("unset Ptr() = %v, want nil", p)
	}
}

func TestApplicationPatch_IsEmpty(t *testing.T) {
	if !(ApplicationPatch{}).IsEmpty() {
		t.Error("zero patch should be empty")
	}

	company := "Acme"
	if (ApplicationPatch{Company: &company}).IsEmpty() {
		t.Error("patch with company should not be empty")
	}
	if (ApplicationPatch{Link: NullString()}).IsEmpty() {
		t.Error("patch clearing link should not be empty")
	}
}

func TestAPIError_UnwrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	apiErr := NewDataAccessError(cause)

	if !errors.Is(apiErr, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if apiErr.Message == cause.Error() {
		t.Error("public message must not expose the cause")
	}

	var target *APIError
	wrapped := errors.Join(errors.New("outer"), apiErr)
	if !errors.As(wrapped, &target) || target.Code != ErrCodeDataAccess {
		t.Errorf("errors.As failed, got %+v", target)
	}
}

func TestNewPartialCompletionError_ReportsSteps(t *testing.T) {
	err := NewPartialCompletionError([]string{"upload"}, []string{"link"}, errors.New("db down"))

	if err.Code != ErrCodePartialCompletion {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodePartialCompletion)
	}
	if len(err.Completed) != 1 || err.Completed[0] != "upload" {
		t.Errorf("Completed = %v, want [upload]", err.Completed)
	}
	if len(err.Pending) != 1 || err.Pending[0] != "link" {
		t.Errorf("Pending = %v, want [link]", err.Pending)
	}
}
