package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const (
	testIssuer   = "https://project.supabase.co/auth/v1"
	testAudience = "authenticated"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newECKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("鍵生成に失敗: %v", err)
	}
	return key
}

// jwksJSON は公開鍵をkid付きのJWKS JSONに変換する。
func jwksJSON(t *testing.T, keys map[string]*ecdsa.PrivateKey) []byte {
	t.Helper()
	set := jwk.NewSet()
	for kid, priv := range keys {
		k, err := jwk.FromRaw(&priv.PublicKey)
		if err != nil {
			t.Fatalf("JWK変換に失敗: %v", err)
		}
		if err := k.Set(jwk.KeyIDKey, kid); err != nil {
			t.Fatalf("kid設定に失敗: %v", err)
		}
		if err := set.AddKey(k); err != nil {
			t.Fatalf("鍵の追加に失敗: %v", err)
		}
	}
	b, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("JWKSのシリアライズに失敗: %v", err)
	}
	return b
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, kid string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("署名に失敗: %v", err)
	}
	return s
}

func validClaims() Claims {
	return Claims{
		Email: "jane@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "8f0e2a4c-1111-2222-3333-444455556666",
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

// staticKeys はKeyLookupのテスト用実装。
type staticKeys map[string]any

func (s staticKeys) LookupKey(ctx context.Context, kid string) (any, error) {
	k, ok := s[kid]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return k, nil
}

// --- Verifier のテスト ---

func TestVerifier_Verify_ValidToken(t *testing.T) {
	priv := newECKey(t)
	v := NewVerifier(staticKeys{"k1": &priv.PublicKey}, VerifierConfig{
		Issuer: testIssuer, Audience: testAudience, Algorithms: []string{"ES256"},
	})

	token := signToken(t, jwt.SigningMethodES256, priv, "k1", validClaims())

	p, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify がエラーを返した: %v", err)
	}
	if p.UserID != "8f0e2a4c-1111-2222-3333-444455556666" {
		t.Errorf("UserID = %q", p.UserID)
	}
	if p.Email != "jane@example.com" || p.Role != "authenticated" {
		t.Errorf("Principal = %+v", p)
	}
}

func TestVerifier_Verify_Rejects(t *testing.T) {
	priv := newECKey(t)
	other := newECKey(t)
	keys := staticKeys{"k1": &priv.PublicKey}
	v := NewVerifier(keys, VerifierConfig{Issuer: testIssuer, Audience: testAudience, Algorithms: []string{"ES256"}})

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://evil.example.com/auth/v1"

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"service_role"}

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	noSubject := validClaims()
	noSubject.Subject = ""

	hsToken := signToken(t, jwt.SigningMethodHS256, []byte("secret"), "k1", validClaims())

	tests := []struct {
		name  string
		token string
	}{
		{"空トークン", ""},
		{"形式不正", "not-a-jwt"},
		{"期限切れ", signToken(t, jwt.SigningMethodES256, priv, "k1", expired)},
		{"発行者不一致", signToken(t, jwt.SigningMethodES256, priv, "k1", wrongIssuer)},
		{"オーディエンス不一致", signToken(t, jwt.SigningMethodES256, priv, "k1", wrongAudience)},
		{"有効期限なし", signToken(t, jwt.SigningMethodES256, priv, "k1", noExpiry)},
		{"subなし", signToken(t, jwt.SigningMethodES256, priv, "k1", noSubject)},
		{"別の鍵で署名", signToken(t, jwt.SigningMethodES256, other, "k1", validClaims())},
		{"未知のkid", signToken(t, jwt.SigningMethodES256, priv, "unknown", validClaims())},
		{"kidなし", signToken(t, jwt.SigningMethodES256, priv, "", validClaims())},
		{"許可外アルゴリズム", hsToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			if err == nil {
				t.Fatal("エラーが返されるべき")
			}
			if !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

// --- KeySetCache のテスト ---

func TestKeySetCache_LazyFetchAndCache(t *testing.T) {
	priv := newECKey(t)
	body := jwksJSON(t, map[string]*ecdsa.PrivateKey{"k1": priv})

	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	defer server.Close()

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf)})

	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Fatalf("生成時にJWKSを取得してはならない: hits=%d", got)
	}

	for i := 0; i < 3; i++ {
		key, err := cache.LookupKey(context.Background(), "k1")
		if err != nil {
			t.Fatalf("LookupKey がエラーを返した: %v", err)
		}
		pub, ok := key.(*ecdsa.PublicKey)
		if !ok || !pub.Equal(&priv.PublicKey) {
			t.Fatalf("公開鍵が一致しない: %T", key)
		}
	}

	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("JWKS取得回数 = %d, want 1", got)
	}
}

func TestKeySetCache_RefreshesOnUnknownKidAndExpiry(t *testing.T) {
	oldKey := newECKey(t)
	newKey := newECKey(t)

	var rotated atomic.Bool
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		keys := map[string]*ecdsa.PrivateKey{"old": oldKey}
		if rotated.Load() {
			keys["new"] = newKey
		}
		w.Write(jwksJSON(t, keys))
	}))
	defer server.Close()

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf)})

	if _, err := cache.LookupKey(context.Background(), "old"); err != nil {
		t.Fatalf("LookupKey(old) failed: %v", err)
	}

	rotated.Store(true)
	if _, err := cache.LookupKey(context.Background(), "new"); err != nil {
		t.Fatalf("ローテーション後の鍵が取得できない: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("JWKS取得回数 = %d, want 2", got)
	}

	// 有効期限切れで再取得される
	now := time.Now()
	cache.now = func() time.Time { return now.Add(time.Hour) }
	if _, err := cache.LookupKey(context.Background(), "old"); err != nil {
		t.Fatalf("LookupKey(old) failed: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("JWKS取得回数 = %d, want 3", got)
	}
}

func TestKeySetCache_RefreshIsRateLimited(t *testing.T) {
	priv := newECKey(t)
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(jwksJSON(t, map[string]*ecdsa.PrivateKey{"k1": priv}))
	}))
	defer server.Close()

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{
		URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf),
		RefreshPerMinute: 2,
	})

	for i := 0; i < 10; i++ {
		_, err := cache.LookupKey(context.Background(), "missing")
		if !errors.Is(err, ErrKeyNotFound) {
			t.Fatalf("err = %v, want ErrKeyNotFound", err)
		}
	}

	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Errorf("JWKS取得回数 = %d, want 2（上限）", got)
	}
}

func TestKeySetCache_ServesStaleSetOnFailure(t *testing.T) {
	priv := newECKey(t)
	var failing atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(jwksJSON(t, map[string]*ecdsa.PrivateKey{"k1": priv}))
	}))
	defer server.Close()

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf)})

	if _, err := cache.LookupKey(context.Background(), "k1"); err != nil {
		t.Fatalf("初回取得に失敗: %v", err)
	}

	failing.Store(true)
	now := time.Now()
	cache.now = func() time.Time { return now.Add(time.Hour) }

	if _, err := cache.LookupKey(context.Background(), "k1"); err != nil {
		t.Fatalf("キャッシュ済みの鍵が使われるべき: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("キャッシュ済みの鍵セットを使用します")) {
		t.Error("再取得失敗の警告ログが出力されていない")
	}
}

func TestKeySetCache_InitialFailureReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf)})

	if _, err := cache.LookupKey(context.Background(), "k1"); err == nil {
		t.Fatal("鍵セットが無い状態での取得失敗はエラーになるべき")
	}
}

// 未知のkidによる再取得が遅延しても、キャッシュ済みの鍵での検証は待たされない。
func TestKeySetCache_SlowRefreshDoesNotBlockCachedLookups(t *testing.T) {
	priv := newECKey(t)
	body := jwksJSON(t, map[string]*ecdsa.PrivateKey{"k1": priv})

	release := make(chan struct{})
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) > 1 {
			<-release
		}
		w.Write(body)
	}))
	defer server.Close()
	defer close(release)

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf)})

	if _, err := cache.LookupKey(context.Background(), "k1"); err != nil {
		t.Fatalf("初回取得に失敗: %v", err)
	}

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		cache.LookupKey(context.Background(), "rotated")
	}()

	// 再取得のリクエストがサーバーに届くまで待つ
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&hits) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("再取得が開始されない")
		}
		time.Sleep(5 * time.Millisecond)
	}

	done := make(chan error, 1)
	go func() {
		_, err := cache.LookupKey(context.Background(), "k1")
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("キャッシュ済みの鍵の取得に失敗: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("再取得中にキャッシュ済みの鍵の取得がブロックされた")
	}

	select {
	case <-slowDone:
		t.Fatal("再取得はまだ完了していないはず")
	default:
	}
}

func TestKeySetCache_ConcurrentRefreshesAreCoalesced(t *testing.T) {
	priv := newECKey(t)
	body := jwksJSON(t, map[string]*ecdsa.PrivateKey{"k1": priv})

	release := make(chan struct{})
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Write(body)
	}))
	defer server.Close()

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{
		URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf),
		RefreshPerMinute: 100,
	})

	const callers = 20
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := cache.LookupKey(context.Background(), "k1")
			errs <- err
		}()
	}

	// 全員が初回取得を待つ状態になってから応答を返す
	time.Sleep(100 * time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Errorf("LookupKey がエラーを返した: %v", err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("JWKS取得回数 = %d, want 1", got)
	}
}

func TestKeySetCache_CallerCancelStopsWaiting(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	defer close(release)

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf)})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := cache.LookupKey(ctx, "k1")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

// Verifier と KeySetCache を組み合わせた検証
func TestVerifier_WithKeySetCache(t *testing.T) {
	priv := newECKey(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(jwksJSON(t, map[string]*ecdsa.PrivateKey{"k1": priv}))
	}))
	defer server.Close()

	var buf bytes.Buffer
	cache := NewKeySetCache(KeySetConfig{URL: server.URL, HTTPClient: server.Client(), Logger: newTestLogger(&buf)})
	v := NewVerifier(cache, VerifierConfig{Issuer: testIssuer, Audience: testAudience})

	p, err := v.Verify(context.Background(), signToken(t, jwt.SigningMethodES256, priv, "k1", validClaims()))
	if err != nil {
		t.Fatalf("Verify がエラーを返した: %v", err)
	}
	if p.Role != "authenticated" {
		t.Errorf("Role = %q", p.Role)
	}
}

// --- AdminClient のテスト ---

func TestAdminClient_FindByID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/admin/users/user-1" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer service-key" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("apikey"); got != "service-key" {
			t.Errorf("apikey = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "user-1",
			"email": "jane@example.com",
			"role":  "authenticated",
		})
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewAdminClient(server.Client(), newTestLogger(&buf), server.URL+"/", "service-key")

	user, err := c.FindByID(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("FindByID がエラーを返した: %v", err)
	}
	if user == nil || user.Email != "jane@example.com" {
		t.Errorf("user = %+v", user)
	}
}

func TestAdminClient_FindByID_NotFoundAndError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/v1/admin/users/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewAdminClient(server.Client(), newTestLogger(&buf), server.URL, "service-key")

	user, err := c.FindByID(context.Background(), "missing")
	if err != nil || user != nil {
		t.Errorf("FindByID(missing) = %+v, %v; want nil, nil", user, err)
	}

	if _, err := c.FindByID(context.Background(), "broken"); err == nil {
		t.Error("5xxはエラーになるべき")
	}
}
