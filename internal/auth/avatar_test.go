package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/linkhub/internal/security"
)

// permissiveGuard はhttptestサーバーへのアクセスを許可するテスト用ガード。
type permissiveGuard struct {
	validateErr error
}

func (g *permissiveGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (g *permissiveGuard) ValidateURL(rawURL string) error {
	return g.validateErr
}

var _ security.SSRFGuardService = (*permissiveGuard)(nil)

func TestAvatarChecker_AcceptsImageResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png-bytes"))
	}))
	defer server.Close()

	checker := NewAvatarChecker(&permissiveGuard{}, 5*time.Second)

	got := checker.Check(context.Background(), server.URL+"/avatar.png")
	if got != server.URL+"/avatar.png" {
		t.Errorf("Check() = %q, want original URL", got)
	}
}

func TestAvatarChecker_EmptyURLIsPassthrough(t *testing.T) {
	checker := NewAvatarChecker(&permissiveGuard{}, 5*time.Second)

	if got := checker.Check(context.Background(), ""); got != "" {
		t.Errorf("Check(\"\") = %q, want empty", got)
	}
}

func TestAvatarChecker_RejectedByValidation(t *testing.T) {
	guard := security.NewSSRFGuard()
	checker := NewAvatarChecker(guard, 5*time.Second)

	// プライベートIPのURLは検証で落ちて空文字列になる
	if got := checker.Check(context.Background(), "https://169.254.169.254/avatar.png"); got != "" {
		t.Errorf("Check() = %q, want empty for blocked URL", got)
	}
}

func TestAvatarChecker_NonImageContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>not an image</html>"))
	}))
	defer server.Close()

	checker := NewAvatarChecker(&permissiveGuard{}, 5*time.Second)

	if got := checker.Check(context.Background(), server.URL); got != "" {
		t.Errorf("Check() = %q, want empty for non-image response", got)
	}
}

func TestAvatarChecker_Non200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	checker := NewAvatarChecker(&permissiveGuard{}, 5*time.Second)

	if got := checker.Check(context.Background(), server.URL); got != "" {
		t.Errorf("Check() = %q, want empty for 404 response", got)
	}
}
