// Package auth はOAuth認証・チャンネル連携フロー、セッション管理を提供する。
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/linkhub/internal/model"
)

// Profile はOAuthプロバイダーから取得したユーザー情報の正規化形。
// プロバイダーごとのレスポンス形式の差異はここで吸収する。
type Profile struct {
	ProviderUserID string
	Email          string
	FirstName      string
	LastName       string
	DisplayName    string
	AvatarURL      string
	Provider       model.Provider
}

// TokenSet はトークンエンドポイントから取得した資格情報。
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int // 秒。0の場合は有効期限情報なし
}

// Provider はOAuthプロバイダーのインターフェース。
// identityプロバイダー（ログイン）とチャンネルプロバイダー（連携）の両方で使用する。
type Provider interface {
	// Name はプロバイダー名を返す。
	Name() model.Provider
	// RequiresPKCE はこのプロバイダーがPKCEを必須とするかを返す。
	RequiresPKCE() bool
	// AuthorizationURL は認可エンドポイントのURLを生成する。
	// codeChallengeはPKCE必須プロバイダーの場合のみ使用される。
	AuthorizationURL(state, codeChallenge string) string
	// ExchangeCode は認可コードをトークンに交換する。
	// codeVerifierはPKCE必須プロバイダーの場合のみ使用される。
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenSet, error)
	// FetchProfile はアクセストークンでユーザー情報を取得し正規化する。
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// splitDisplayName は表示名を最初の空白でfirst/lastに分割する。
// given/family nameを個別に返さないプロバイダー向けのヒューリスティック。
func splitDisplayName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.TrimSpace(parts[1])
}

// postTokenForm はトークンエンドポイントにフォームPOSTし、レスポンスJSONをtargetに読み込む。
// 2xx以外のステータスはエラーとして返す。
func postTokenForm(ctx context.Context, client *http.Client, tokenURL string, data url.Values, headers map[string]string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}

	return nil
}

// getJSON はBearerトークン付きでGETし、レスポンスJSONをtargetに読み込む。
// 2xx以外のステータスはエラーとして返す。
func getJSON(ctx context.Context, client *http.Client, rawURL, accessToken string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to parse user info response: %w", err)
	}

	return nil
}
