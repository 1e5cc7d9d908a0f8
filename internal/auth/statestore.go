package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/linkhub/internal/model"
)

// Purpose はOAuthフローの種別を表す。
type Purpose string

const (
	// PurposeLogin はログイン（identity）フロー。
	PurposeLogin Purpose = "login"
	// PurposeConnect はチャンネル連携フロー。
	PurposeConnect Purpose = "connect"
)

// State はOAuth開始時に発行するCSRF防止トークンとフローのコンテキスト。
// コールバックで一度だけ消費される。
type State struct {
	Token        string
	Purpose      Purpose
	Provider     model.Provider
	UserID       string // connectフローのみ。stateに紐付けてコールバックで復元する
	CodeVerifier string // PKCE必須プロバイダーのみ
	ExpiresAt    time.Time
}

// StateStore はOAuth stateの保存と単一消費のインターフェース。
// 複数インスタンス構成ではRedis等のバックエンドに差し替える。
type StateStore interface {
	// Save はstateを保存する。
	Save(state *State)
	// Consume はトークンに対応するstateを取り出し、同時に削除する。
	// 未知のトークン、消費済み、期限切れの場合はfalseを返す。
	Consume(token string) (*State, bool)
	// Stop はバックグラウンド処理を停止する。
	Stop()
}

// GenerateStateToken はCSRF防止用のstateトークンを生成する。
// 16バイトの乱数を16進数エンコードした32文字。
func GenerateStateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// MemoryStateStore はプロセス内メモリによるStateStoreの実装。
// 単一インスタンス構成向け。stateのTTLは短いため再起動での消失は許容する。
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*State
	ttl    time.Duration
	done   chan struct{}
}

// NewMemoryStateStore はMemoryStateStoreを生成し、
// 期限切れstateを定期削除するバックグラウンドループを開始する。
func NewMemoryStateStore(ttl time.Duration) *MemoryStateStore {
	s := &MemoryStateStore{
		states: make(map[string]*State),
		ttl:    ttl,
		done:   make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Save はstateを保存する。ExpiresAtが未設定の場合はTTLから補完する。
func (s *MemoryStateStore) Save(state *State) {
	if state.ExpiresAt.IsZero() {
		state.ExpiresAt = time.Now().Add(s.ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Token] = state
}

// Consume はトークンに対応するstateを取り出し、同時に削除する。
// 取り出しと削除はロック下で行われ、同一トークンの二重消費は起きない。
func (s *MemoryStateStore) Consume(token string) (*State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[token]
	if !ok {
		return nil, false
	}
	delete(s.states, token)

	if time.Now().After(state.ExpiresAt) {
		return nil, false
	}
	return state, true
}

// cleanupLoop は消費されずに期限切れとなったstateを定期的に削除する。
func (s *MemoryStateStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for token, state := range s.states {
				if now.After(state.ExpiresAt) {
					delete(s.states, token)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Stop はクリーンアップループを停止する。
func (s *MemoryStateStore) Stop() {
	close(s.done)
}

// compile-time interface check
var _ StateStore = (*MemoryStateStore)(nil)
