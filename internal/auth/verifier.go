package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeyLookup はkidから検証用の公開鍵を引くインターフェース。
type KeyLookup interface {
	LookupKey(ctx context.Context, kid string) (any, error)
}

// VerifierConfig はVerifierの設定。
type VerifierConfig struct {
	Issuer     string
	Audience   string
	Algorithms []string // 許可する署名アルゴリズム（例: ES256）
	Leeway     time.Duration
}

// Claims はSupabase Authのアクセストークンのクレーム。
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier はベアラートークンを検証してPrincipalを返す。
// 署名アルゴリズム、発行者、オーディエンスはすべて完全一致で検証する。
type Verifier struct {
	keys   KeyLookup
	parser *jwt.Parser
}

// NewVerifier はVerifierを生成する。
func NewVerifier(keys KeyLookup, cfg VerifierConfig) *Verifier {
	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = []string{"ES256"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithExpirationRequired(),
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	return &Verifier{
		keys:   keys,
		parser: jwt.NewParser(opts...),
	}
}

// Verify はトークンを検証する。失敗した場合はErrUnauthenticatedをラップしたエラーを返す。
func (v *Verifier) Verify(ctx context.Context, rawToken string) (Principal, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Principal{}, fmt.Errorf("%w: トークンがありません", ErrUnauthenticated)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("kidヘッダーがありません")
		}
		return v.keys.LookupKey(ctx, kid)
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: subクレームがありません", ErrUnauthenticated)
	}

	return Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}, nil
}
