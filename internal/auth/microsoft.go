package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/linkhub/internal/model"
)

const (
	defaultMicrosoftAuthURL     = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	defaultMicrosoftTokenURL    = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	defaultMicrosoftUserInfoURL = "https://graph.microsoft.com/v1.0/me"
)

// MicrosoftConfig はMicrosoft OAuthプロバイダーの設定。
type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// MicrosoftProvider はMicrosoftアカウント（Outlook）連携用のチャンネルプロバイダー。
type MicrosoftProvider struct {
	config MicrosoftConfig
	client *http.Client
}

// NewMicrosoftProvider はMicrosoftProviderを生成する。
func NewMicrosoftProvider(config MicrosoftConfig) *MicrosoftProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultMicrosoftAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultMicrosoftTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultMicrosoftUserInfoURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &MicrosoftProvider{config: config, client: client}
}

// Name はプロバイダー名を返す。
func (p *MicrosoftProvider) Name() model.Provider {
	return model.ProviderMicrosoft
}

// RequiresPKCE はPKCE必須かどうかを返す。MicrosoftはPKCE不要（confidential client）。
func (p *MicrosoftProvider) RequiresPKCE() bool {
	return false
}

// AuthorizationURL はMicrosoftの認証URLを生成する。
// offline_accessスコープによりリフレッシュトークンが発行される。
func (p *MicrosoftProvider) AuthorizationURL(state, _ string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile offline_access Mail.Send"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// microsoftTokenResponse はMicrosoftのトークンエンドポイントのレスポンス。
type microsoftTokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// microsoftUserInfo はMicrosoft Graphの/meエンドポイントのレスポンス。
type microsoftUserInfo struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	GivenName         string `json:"givenName"`
	Surname           string `json:"surname"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (p *MicrosoftProvider) ExchangeCode(ctx context.Context, code, _ string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	var tokenResp microsoftTokenResponse
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

// FetchProfile はアクセストークンでMicrosoft Graphのユーザー情報を取得し正規化する。
// mailが空の場合はuserPrincipalNameをメールアドレスとして使用する。
func (p *MicrosoftProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var userInfo microsoftUserInfo
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, &userInfo); err != nil {
		return nil, err
	}

	if userInfo.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}

	email := userInfo.Mail
	if email == "" {
		email = userInfo.UserPrincipalName
	}

	first, last := userInfo.GivenName, userInfo.Surname
	if first == "" && last == "" {
		first, last = splitDisplayName(userInfo.DisplayName)
	}

	return &Profile{
		ProviderUserID: userInfo.ID,
		Email:          email,
		FirstName:      first,
		LastName:       last,
		DisplayName:    userInfo.DisplayName,
		Provider:       model.ProviderMicrosoft,
	}, nil
}

// compile-time interface check
var _ Provider = (*MicrosoftProvider)(nil)
