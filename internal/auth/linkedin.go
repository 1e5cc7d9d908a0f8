package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/linkhub/internal/model"
)

const (
	defaultLinkedInAuthURL     = "https://www.linkedin.com/oauth/v2/authorization"
	defaultLinkedInTokenURL    = "https://www.linkedin.com/oauth/v2/accessToken"
	defaultLinkedInUserInfoURL = "https://api.linkedin.com/v2/userinfo"
)

// LinkedInConfig はLinkedIn OAuthプロバイダーの設定。
type LinkedInConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// LinkedInProvider はLinkedIn投稿連携用のチャンネルプロバイダー。
type LinkedInProvider struct {
	config LinkedInConfig
	client *http.Client
}

// NewLinkedInProvider はLinkedInProviderを生成する。
func NewLinkedInProvider(config LinkedInConfig) *LinkedInProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultLinkedInAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultLinkedInTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultLinkedInUserInfoURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &LinkedInProvider{config: config, client: client}
}

// Name はプロバイダー名を返す。
func (p *LinkedInProvider) Name() model.Provider {
	return model.ProviderLinkedIn
}

// RequiresPKCE はPKCE必須かどうかを返す。LinkedInはPKCE不要。
func (p *LinkedInProvider) RequiresPKCE() bool {
	return false
}

// AuthorizationURL はLinkedInの認証URLを生成する。
func (p *LinkedInProvider) AuthorizationURL(state, _ string) string {
	params := url.Values{
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid profile email w_member_social"},
		"state":         {state},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// linkedinTokenResponse はLinkedInのトークンエンドポイントのレスポンス。
type linkedinTokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// linkedinUserInfo はLinkedInのOpenID userinfoエンドポイントのレスポンス。
type linkedinUserInfo struct {
	Sub        string `json:"sub"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
}

// ExchangeCode は認可コードをアクセストークンに交換する。
func (p *LinkedInProvider) ExchangeCode(ctx context.Context, code, _ string) (*TokenSet, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	var tokenResp linkedinTokenResponse
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

// FetchProfile はアクセストークンでLinkedInのユーザー情報を取得し正規化する。
func (p *LinkedInProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var userInfo linkedinUserInfo
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
		Provider:       model.ProviderLinkedIn,
	}, nil
}

// compile-time interface check
var _ Provider = (*LinkedInProvider)(nil)
