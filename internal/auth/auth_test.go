package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJWT_SignVerify(t *testing.T) {
	j := NewJWT("s3cret")
	tok, err := j.Sign(42)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	uid, err := j.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if uid != 42 {
		t.Fatalf("uid = %d, want 42", uid)
	}

	if _, err := NewJWT("other").Verify(tok); err == nil {
		t.Fatalf("token signed with another secret must not verify")
	}
	if _, err := j.Verify("not-a-token"); err == nil {
		t.Fatalf("garbage must not verify")
	}
}

func TestPassword(t *testing.T) {
	h, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !ComparePassword(h, "correct horse") {
		t.Fatalf("expected match")
	}
	if ComparePassword(h, "battery staple") {
		t.Fatalf("expected mismatch")
	}
}

func TestRequireAuth(t *testing.T) {
	j := NewJWT("s3cret")
	var got uint64
	h := RequireAuth(j)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no header: code = %d", rec.Code)
	}

	tok, _ := j.Sign(7)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("valid token: code = %d", rec.Code)
	}
	if got != 7 {
		t.Fatalf("user id in context = %d", got)
	}
}
