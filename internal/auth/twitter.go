package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hitoshi/linkhub/internal/model"
)

const (
	defaultTwitterAuthURL     = "https://twitter.com/i/oauth2/authorize"
	defaultTwitterTokenURL    = "https://api.twitter.com/2/oauth2/token"
	defaultTwitterUserInfoURL = "https://api.twitter.com/2/users/me?user.fields=profile_image_url"
)

// TwitterConfig はTwitter OAuthプロバイダーの設定。
type TwitterConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	HTTPClient *http.Client
}

// TwitterProvider はTwitter（X）投稿連携用のチャンネルプロバイダー。
// Twitter OAuth 2.0はPKCE必須。
type TwitterProvider struct {
	config TwitterConfig
	client *http.Client
}

// NewTwitterProvider はTwitterProviderを生成する。
func NewTwitterProvider(config TwitterConfig) *TwitterProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultTwitterAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultTwitterTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultTwitterUserInfoURL
	}
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &TwitterProvider{config: config, client: client}
}

// Name はプロバイダー名を返す。
func (p *TwitterProvider) Name() model.Provider {
	return model.ProviderTwitter
}

// RequiresPKCE はPKCE必須かどうかを返す。TwitterはPKCE必須。
func (p *TwitterProvider) RequiresPKCE() bool {
	return true
}

// AuthorizationURL はTwitterの認証URLを生成する。
// code_challengeはS256方式で送信する。
func (p *TwitterProvider) AuthorizationURL(state, codeChallenge string) string {
	params := url.Values{
		"client_id":             {p.config.ClientID},
		"redirect_uri":          {p.config.RedirectURL},
		"response_type":         {"code"},
		"scope":                 {"tweet.read tweet.write users.read offline.access"},
		"state":                 {state},
		"code_challenge":        {codeChallenge},
		"code_challenge_method": {"S256"},
	}
	return p.config.AuthURL + "?" + params.Encode()
}

// twitterTokenResponse はTwitterのトークンエンドポイントのレスポンス。
type twitterTokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// twitterUserInfo はTwitterの/2/users/meエンドポイントのレスポンス。
type twitterUserInfo struct {
	Data struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
}

// ExchangeCode は認可コードとcode_verifierをアクセストークンに交換する。
// クライアント認証はBasic認証ヘッダーで行う。
func (p *TwitterProvider) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenSet, error) {
	if codeVerifier == "" {
		return nil, fmt.Errorf("missing code verifier for PKCE exchange")
	}

	data := url.Values{
		"code":          {code},
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"grant_type":    {"authorization_code"},
		"code_verifier": {codeVerifier},
	}

	basic := base64.StdEncoding.EncodeToString([]byte(p.config.ClientID + ":" + p.config.ClientSecret))
	headers := map[string]string{"Authorization": "Basic " + basic}

	var tokenResp twitterTokenResponse
	if err := postTokenForm(ctx, p.client, p.config.TokenURL, data, headers, &tokenResp); err != nil {
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

// FetchProfile はアクセストークンでTwitterのユーザー情報を取得し正規化する。
// Twitterはメールアドレスを返さない。
func (p *TwitterProvider) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	var userInfo twitterUserInfo
	if err := getJSON(ctx, p.client, p.config.UserInfoURL, accessToken, &userInfo); err != nil {
		return nil, err
	}

	if userInfo.Data.ID == "" {
		return nil, fmt.Errorf("empty id in user info response")
	}

	first, last := splitDisplayName(userInfo.Data.Name)

	return &Profile{
		ProviderUserID: userInfo.Data.ID,
		FirstName:      first,
		LastName:       last,
		DisplayName:    userInfo.Data.Name,
		AvatarURL:      userInfo.Data.ProfileImageURL,
		Provider:       model.ProviderTwitter,
	}, nil
}

// compile-time interface check
var _ Provider = (*TwitterProvider)(nil)
