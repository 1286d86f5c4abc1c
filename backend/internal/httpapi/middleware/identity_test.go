package middleware

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, expires time.Time) string {
	t.Helper()
	claims := &Claims{
		PeerID:      "u-a",
		DisplayName: "Alice",
		Type:        "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestParseToken_RoundTrip(t *testing.T) {
	tok := signToken(t, jwt.SigningMethodHS256, testSecret, time.Now().Add(time.Hour))
	claims, err := ParseToken(tok, testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.PeerID != "u-a" || claims.DisplayName != "Alice" {
		t.Fatalf("claims = %+v", claims)
	}
}

// alg=none 的令牌必须拒掉，不管签名段长什么样
func TestParseToken_RejectsNoneAlgorithm(t *testing.T) {
	tok := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, time.Now().Add(time.Hour))
	if _, err := ParseToken(tok, testSecret); err == nil {
		t.Fatal("none-signed token accepted")
	}
}

func TestParseToken_RejectsWrongSecret(t *testing.T) {
	tok := signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), time.Now().Add(time.Hour))
	if _, err := ParseToken(tok, testSecret); err == nil {
		t.Fatal("token signed with a different secret accepted")
	}
}

func TestParseToken_RejectsExpired(t *testing.T) {
	tok := signToken(t, jwt.SigningMethodHS256, testSecret, time.Now().Add(-time.Minute))
	if _, err := ParseToken(tok, testSecret); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestExtractBearer(t *testing.T) {
	if got := extractBearer("Bearer abc.def.ghi"); got != "abc.def.ghi" {
		t.Fatalf("extractBearer() = %q", got)
	}
	if got := extractBearer("Basic xyz"); got != "" {
		t.Fatalf("extractBearer() on non-bearer = %q", got)
	}
	if got := extractBearer(""); got != "" {
		t.Fatalf("extractBearer() on empty = %q", got)
	}
}
