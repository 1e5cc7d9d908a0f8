package auth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/linkhub/internal/security"
)

// AvatarChecker はプロバイダー由来のアバターURLを検証する。
// ユーザー情報レスポンスに含まれるURLは外部入力であり、
// SSRFガード経由でのみアクセスする。
type AvatarChecker struct {
	guard   security.SSRFGuardService
	client  *http.Client
	timeout time.Duration
}

// NewAvatarChecker はAvatarCheckerを生成する。
func NewAvatarChecker(guard security.SSRFGuardService, timeout time.Duration) *AvatarChecker {
	return &AvatarChecker{
		guard:   guard,
		client:  guard.NewSafeClient(timeout),
		timeout: timeout,
	}
}

// Check はアバターURLを静的検証し、SSRFガード付きクライアントで
// 実際に取得して画像であることを確認する。
// 検証に通らないURLは空文字列に落とし、連携自体は継続させる。
func (c *AvatarChecker) Check(ctx context.Context, rawURL string) string {
	if rawURL == "" {
		return ""
	}

	if err := c.guard.ValidateURL(rawURL); err != nil {
		slog.Warn("avatar URL rejected by validation", "error", err)
		return ""
	}

	if err := c.probe(ctx, rawURL); err != nil {
		slog.Warn("avatar URL fetch failed", "error", err)
		return ""
	}

	return rawURL
}

// probe はURLをGETし、ステータスとContent-Typeを確認する。
// 本文は破棄する。
func (c *AvatarChecker) probe(ctx context.Context, rawURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create avatar request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("avatar request failed: %w", err)
	}
	defer resp.Body.Close()

	// 本文は読み捨てる。サイズ上限付き
	io.CopyN(io.Discard, resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("avatar fetch returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return fmt.Errorf("unexpected avatar content type: %s", contentType)
	}

	return nil
}
