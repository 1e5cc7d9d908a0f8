package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/linkhub/internal/model"
	"github.com/hitoshi/linkhub/internal/repository"
	"github.com/hitoshi/linkhub/internal/security"
)

// OAuthError はOAuthコールバック処理の失敗を表す。
// Codeはリダイレクト先に渡す不透明なエラーコードで、
// 原因の詳細はErrとしてサーバー側ログにのみ残す。
type OAuthError struct {
	Code string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *OAuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

// Unwrap はラップされたエラーを返す。
func (e *OAuthError) Unwrap() error {
	return e.Err
}

// CallbackInput はOAuthコールバックのクエリパラメータ。
type CallbackInput struct {
	Provider   string
	State      string
	Code       string
	ErrorParam string // プロバイダーがユーザー拒否等で返すerrorパラメータ
}

// Service はOAuthログイン・チャンネル連携フローの中核処理を提供する。
// ログインと連携ではコールバックURLが異なるため、
// 同じプロバイダーでもフローごとに別のProviderインスタンスを登録する。
type Service struct {
	loginProviders   map[model.Provider]Provider
	connectProviders map[model.Provider]Provider
	states           StateStore
	users            repository.UserRepository
	identities       repository.IdentityRepository
	sessions         repository.SessionRepository
	channels         repository.ChannelCredentialRepository
	sanitizer        security.ProfileSanitizerService
	avatars          *AvatarChecker
	sessionMaxAge    time.Duration
}

// ServiceConfig はServiceの依存関係。
type ServiceConfig struct {
	LoginProviders   []Provider
	ConnectProviders []Provider
	States           StateStore
	Users            repository.UserRepository
	Identities       repository.IdentityRepository
	Sessions         repository.SessionRepository
	Channels         repository.ChannelCredentialRepository
	Sanitizer        security.ProfileSanitizerService
	Avatars          *AvatarChecker
	SessionMaxAge    time.Duration
}

// NewService はServiceを生成する。
func NewService(cfg ServiceConfig) *Service {
	login := make(map[model.Provider]Provider, len(cfg.LoginProviders))
	for _, p := range cfg.LoginProviders {
		login[p.Name()] = p
	}
	connect := make(map[model.Provider]Provider, len(cfg.ConnectProviders))
	for _, p := range cfg.ConnectProviders {
		connect[p.Name()] = p
	}
	return &Service{
		loginProviders:   login,
		connectProviders: connect,
		states:           cfg.States,
		users:            cfg.Users,
		identities:       cfg.Identities,
		sessions:         cfg.Sessions,
		channels:         cfg.Channels,
		sanitizer:        cfg.Sanitizer,
		avatars:          cfg.Avatars,
		sessionMaxAge:    cfg.SessionMaxAge,
	}
}

// providerFor はプロバイダー名とフロー種別から登録済みProviderを解決する。
func (s *Service) providerFor(name string, purpose Purpose) (Provider, error) {
	if !model.ValidProvider(name) {
		return nil, model.NewUnknownProviderError(name)
	}
	providers := s.connectProviders
	if purpose == PurposeLogin {
		providers = s.loginProviders
	}
	p, ok := providers[model.Provider(name)]
	if !ok {
		return nil, model.NewProviderDisabledError(name)
	}
	return p, nil
}

// BeginLogin はログインフローを開始し、プロバイダーの認可URLを返す。
func (s *Service) BeginLogin(providerName string) (string, error) {
	p, err := s.providerFor(providerName, PurposeLogin)
	if err != nil {
		return "", err
	}
	return s.beginFlow(p, PurposeLogin, "")
}

// BeginConnect はチャンネル連携フローを開始し、プロバイダーの認可URLを返す。
// 連携先ユーザーIDはstateに紐付けてコールバックで復元する。
func (s *Service) BeginConnect(userID, providerName string) (string, error) {
	p, err := s.providerFor(providerName, PurposeConnect)
	if err != nil {
		return "", err
	}
	return s.beginFlow(p, PurposeConnect, userID)
}

// beginFlow はstate（とPKCEパラメータ）を発行して認可URLを組み立てる。
func (s *Service) beginFlow(p Provider, purpose Purpose, userID string) (string, error) {
	token, err := GenerateStateToken()
	if err != nil {
		return "", err
	}

	state := &State{
		Token:    token,
		Purpose:  purpose,
		Provider: p.Name(),
		UserID:   userID,
	}

	var codeChallenge string
	if p.RequiresPKCE() {
		verifier, err := GenerateCodeVerifier()
		if err != nil {
			return "", err
		}
		state.CodeVerifier = verifier
		codeChallenge = CodeChallengeS256(verifier)
	}

	s.states.Save(state)
	return p.AuthorizationURL(token, codeChallenge), nil
}

// resolveCallback はコールバックの共通処理を実行する。
// 処理順序は固定: errorパラメータ → state消費 → codeの有無 →
// トークン交換 → ユーザー情報取得。stateの消費は失敗経路でも一度きり。
func (s *Service) resolveCallback(ctx context.Context, in CallbackInput, purpose Purpose) (*Profile, *TokenSet, *State, *OAuthError) {
	// 1. プロバイダーからのエラー通知（ユーザーによる拒否等）
	if in.ErrorParam != "" {
		return nil, nil, nil, &OAuthError{
			Code: model.OAuthErrProviderDenied,
			Err:  fmt.Errorf("provider returned error: %s", in.ErrorParam),
		}
	}

	// 2. stateの単一消費。フロー種別・プロバイダーの不一致も無効扱い
	state, ok := s.states.Consume(in.State)
	if !ok {
		return nil, nil, nil, &OAuthError{
			Code: model.OAuthErrInvalidState,
			Err:  fmt.Errorf("state not found or expired"),
		}
	}
	if state.Purpose != purpose || state.Provider != model.Provider(in.Provider) {
		return nil, nil, nil, &OAuthError{
			Code: model.OAuthErrInvalidState,
			Err:  fmt.Errorf("state mismatch: purpose=%s provider=%s", state.Purpose, state.Provider),
		}
	}

	// 3. 認可コードの有無
	if in.Code == "" {
		return nil, nil, nil, &OAuthError{
			Code: model.OAuthErrMissingCode,
			Err:  fmt.Errorf("authorization code missing"),
		}
	}

	p, err := s.providerFor(in.Provider, purpose)
	if err != nil {
		return nil, nil, nil, &OAuthError{Code: model.OAuthErrInvalidState, Err: err}
	}

	// 4. トークン交換
	tokens, err := p.ExchangeCode(ctx, in.Code, state.CodeVerifier)
	if err != nil {
		return nil, nil, nil, &OAuthError{Code: model.OAuthErrTokenExchangeFailed, Err: err}
	}

	// 5. ユーザー情報取得・正規化
	profile, err := p.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return nil, nil, nil, &OAuthError{Code: model.OAuthErrUserInfoFailed, Err: err}
	}

	// 6. 外部由来テキストのサニタイズとアバターURL検証
	profile.FirstName = s.sanitizer.Sanitize(profile.FirstName)
	profile.LastName = s.sanitizer.Sanitize(profile.LastName)
	profile.DisplayName = s.sanitizer.Sanitize(profile.DisplayName)
	if s.avatars != nil {
		profile.AvatarURL = s.avatars.Check(ctx, profile.AvatarURL)
	}

	return profile, tokens, state, nil
}

// HandleLoginCallback はログインコールバックを処理し、セッションを発行する。
// 既存identityがあればそのユーザーで、なければユーザーを新規作成してログインする。
func (s *Service) HandleLoginCallback(ctx context.Context, in CallbackInput) (*model.Session, *OAuthError) {
	profile, _, _, oerr := s.resolveCallback(ctx, in, PurposeLogin)
	if oerr != nil {
		return nil, oerr
	}

	user, err := s.findOrCreateUser(ctx, profile)
	if err != nil {
		return nil, &OAuthError{Code: model.OAuthErrAccountFailed, Err: err}
	}

	session, err := s.mintSession(ctx, user.ID)
	if err != nil {
		return nil, &OAuthError{Code: model.OAuthErrAccountFailed, Err: err}
	}

	slog.Info("user logged in", "user_id", user.ID, "provider", profile.Provider)
	return session, nil
}

// HandleConnectCallback はチャンネル連携コールバックを処理し、
// 資格情報を(user_id, provider)単位で冪等に保存する。再連携は上書き。
func (s *Service) HandleConnectCallback(ctx context.Context, in CallbackInput) (model.Provider, *OAuthError) {
	profile, tokens, state, oerr := s.resolveCallback(ctx, in, PurposeConnect)
	if oerr != nil {
		return "", oerr
	}

	now := time.Now()
	cred := &model.ChannelCredential{
		ID:                uuid.New().String(),
		UserID:            state.UserID,
		Provider:          profile.Provider,
		ProviderAccountID: profile.ProviderUserID,
		DisplayName:       profile.DisplayName,
		AvatarURL:         profile.AvatarURL,
		AccessToken:       tokens.AccessToken,
		RefreshToken:      tokens.RefreshToken,
		Status:            model.ChannelConnected,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if tokens.ExpiresIn > 0 {
		expiresAt := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
		cred.TokenExpiresAt = &expiresAt
	}

	if err := s.channels.Upsert(ctx, cred); err != nil {
		return "", &OAuthError{Code: model.OAuthErrAccountFailed, Err: fmt.Errorf("failed to save channel credential: %w", err)}
	}

	slog.Info("channel connected", "user_id", state.UserID, "provider", profile.Provider)
	return profile.Provider, nil
}

// findOrCreateUser はprofileに対応するユーザーを検索し、なければ作成する。
func (s *Service) findOrCreateUser(ctx context.Context, profile *Profile) (*model.User, error) {
	identity, err := s.identities.FindByProviderAndProviderUserID(ctx, string(profile.Provider), profile.ProviderUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}

	if identity != nil {
		user, err := s.users.FindByID(ctx, identity.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, fmt.Errorf("identity %s references missing user %s", identity.ID, identity.UserID)
		}
		return user, nil
	}

	now := time.Now()
	user := &model.User{
		ID:        uuid.New().String(),
		Email:     profile.Email,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Picture:   profile.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         user.ID,
		Provider:       string(profile.Provider),
		ProviderUserID: profile.ProviderUserID,
		CreatedAt:      now,
	}
	if err := s.users.CreateWithIdentity(ctx, user, newIdentity); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user created", "user_id", user.ID, "provider", profile.Provider)
	return user, nil
}

// mintSession は新しいセッションを発行して保存する。
func (s *Service) mintSession(ctx context.Context, userID string) (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	session := &model.Session{
		ID:        id,
		UserID:    userID,
		ExpiresAt: now.Add(s.sessionMaxAge),
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetCurrentUser はセッションIDから現在のログインユーザーを取得する。
// セッションが無効・期限切れの場合はnilを返す。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// Logout はセッションを削除する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// generateSessionID は32バイトの乱数から64文字の16進数セッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
