package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/linkhub/internal/model"
)

const (
	defaultFacebookAuthURL     = "https://www.facebook.com/v19.0/dialog/oauth"
	defaultFacebookTokenURL    = "https://graph.facebook.com/v19.0/oauth/access_token"
	defaultFacebookUserInfoURL = "https://graph.facebook.com/v19.0/me?fields=id,name,email,picture"
)

// FacebookConfig はFacebook OAuthプロバイダーの設定。
type FacebookConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// FacebookProvider はFacebookページ連携用のチャンネルプロバイダー。
type FacebookProvider struct {
	config FacebookConfig
	client *http.Client
}

// NewFacebookProvider はFacebookProviderを生成する。
func NewFacebookProvider(config FacebookConfig) *FacebookProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultFacebookAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultFacebookTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultFacebookUserInfoURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &FacebookProvider{config: config, client: client}
}

// Name はプロバイダー名を返す。
func (p *FacebookProvider) Name() model.Provider {
	return model.ProviderFacebook
}

// RequiresPKCE はPKCE必須かどうかを返す。FacebookはPKCE不要。
func (p *FacebookProvider) RequiresPKCE() bool {
	return false
}

// AuthorizationURL はFacebookの認証URLを生成する。
func (p *FacebookProvider) AuthorizationURL(state, _ string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"email,pages_show_list,pages_manage_posts"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// facebookTokenResponse はFacebookのトークンエンドポイントのレスポンス。
type facebookTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// facebookUserInfo はFacebookのユーザー情報エンドポイントのレスポンス。
type facebookUserInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// Facebookはリフレッシュトークンを発行しない（長期トークンへの交換は別API）。
func (p *FacebookProvider) ExchangeCode(ctx context.Context, code, _ string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
	}

	var tokenResp facebookTokenResponse
	if err := postTokenForm(ctx, p.client, p.config.TokenURL, data, nil, &tokenResp); err != nil {
		return nil, err
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &TokenSet{
		AccessToken: tokenResp.AccessToken,
		ExpiresIn:   tokenResp.ExpiresIn,
	}, nil
}

// FetchProfile はアクセストークンでFacebookのユーザー情報を取得し正規化する。
func (p *FacebookProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var userInfo facebookUserInfo
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, &userInfo); err != nil {
		return nil, err
	}

	if userInfo.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}

	first, last := splitDisplayName(userInfo.Name)

	return &Profile{
		ProviderUserID: userInfo.ID,
		Email:          userInfo.Email,
		FirstName:      first,
		LastName:       last,
		DisplayName:    userInfo.Name,
		AvatarURL:      userInfo.Picture.Data.URL,
		Provider:       model.ProviderFacebook,
	}, nil
}

// compile-time interface check
var _ Provider = (*FacebookProvider)(nil)
