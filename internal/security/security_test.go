package security

import "testing"

func TestTextSanitizer_Sanitize(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "Acme Corp", want: "Acme Corp"},
		{name: "前後の空白を除去", input: "  Acme  ", want: "Acme"},
		{name: "タグを除去", input: "<b>Acme</b> Corp", want: "Acme Corp"},
		{name: "scriptは内容ごと除去", input: "Acme<script>alert(1)</script>", want: "Acme"},
		{name: "アンパサンドは元の文字のまま", input: "AT&T", want: "AT&T"},
		{name: "エンティティで書かれたタグも除去", input: "&lt;script&gt;alert(1)&lt;/script&gt;Acme", want: "Acme"},
		{name: "イベント属性を持つ要素", input: `<img src=x onerror="alert(1)">Dev`, want: "Dev"},
		{name: "空文字列", input: "", want: ""},
		{name: "日本語", input: "<p>株式会社テスト</p>", want: "株式会社テスト"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	inputs := []string{"<i>x</i> & y", "a &amp;lt;b&amp;gt; c", "Senior <Go> Engineer"}
	for _, in := range inputs {
		once := s.Sanitize(in)
		if twice := s.Sanitize(once); twice != once {
			t.Errorf("Sanitize is not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestTextSanitizer_SanitizePtr(t *testing.T) {
	s := NewTextSanitizer()
	if got := s.SanitizePtr(nil); got != nil {
		t.Errorf("SanitizePtr(nil) = %v, want nil", *got)
	}
	in := "<em>LinkedIn</em>"
	if got := s.SanitizePtr(&in); got == nil || *got != "LinkedIn" {
		t.Errorf("SanitizePtr = %v, want LinkedIn", got)
	}
}

func TestValidateLink(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "https", url: "https://jobs.example.com/123", wantErr: false},
		{name: "http", url: "http://example.com", wantErr: false},
		{name: "大文字スキーム", url: "HTTPS://example.com", wantErr: false},
		{name: "javascriptスキーム", url: "javascript:alert(1)", wantErr: true},
		{name: "ftpスキーム", url: "ftp://example.com/file", wantErr: true},
		{name: "スキームなし", url: "example.com/jobs", wantErr: true},
		{name: "ホストなし", url: "https://", wantErr: true},
		{name: "空文字列", url: "", wantErr: true},
		{name: "パース不能", url: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateLink(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateLink(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
