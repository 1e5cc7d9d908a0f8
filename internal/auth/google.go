package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/linkhub/internal/model"
)

const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleConfig はGoogle OAuthプロバイダーの設定。
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// 外部通信に使用するHTTPクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// GoogleProvider はGoogle OAuth 2.0による認証を提供する。
// identityプロバイダー（ログイン）兼チャンネルプロバイダーとして使用する。
type GoogleProvider struct {
	config GoogleConfig
	client *http.Client
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(config GoogleConfig) *GoogleProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &GoogleProvider{config: config, client: client}
}

// Name はプロバイダー名を返す。
func (p *GoogleProvider) Name() model.Provider {
	return model.ProviderGoogle
}

// RequiresPKCE はPKCE必須かどうかを返す。GoogleはPKCE不要。
func (p *GoogleProvider) RequiresPKCE() bool {
	return false
}

// AuthorizationURL はGoogle OAuthの認証URLを生成する。
// スコープにはemail, profileを含む。
func (p *GoogleProvider) AuthorizationURL(state, _ string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
		"access_type":   {"offline"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// googleTokenResponse はGoogleのトークンエンドポイントのレスポンス。
type googleTokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// googleUserInfo はGoogleのユーザー情報エンドポイントのレスポンス。
type googleUserInfo struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (p *GoogleProvider) ExchangeCode(ctx context.Context, code, _ string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	var tokenResp googleTokenResponse
	if err := postTokenForm(ctx, p.client, p.config.TokenURL, data, nil, &tokenResp); err != nil {
		return nil, err
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &TokenSet{
		AccessToken:  tokenResp.AccessToken,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresIn:    tokenResp.ExpiresIn,
	}, nil
}

// FetchProfile はアクセストークンでGoogleのユーザー情報を取得し正規化する。
func (p *GoogleProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var userInfo googleUserInfo
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, &userInfo); err != nil {
		return nil, err
	}

	if userInfo.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	first, last := userInfo.GivenName, userInfo.FamilyName
	if first == "" && last == "" {
		first, last = splitDisplayName(userInfo.Name)
	}

	return &Profile{
		ProviderUserID: userInfo.Sub,
		Email:          userInfo.Email,
		FirstName:      first,
		LastName:       last,
		DisplayName:    userInfo.Name,
		AvatarURL:      userInfo.Picture,
		Provider:       model.ProviderGoogle,
	}, nil
}

// compile-time interface check
var _ Provider = (*GoogleProvider)(nil)
