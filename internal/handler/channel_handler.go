package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/linkhub/internal/middleware"
	"github.com/hitoshi/linkhub/internal/model"
)

// ChannelStoreInterface はチャンネルハンドラーが必要とする永続化インターフェース。
// repository.ChannelCredentialRepositoryの部分集合。
type ChannelStoreInterface interface {
	ListByUserID(ctx context.Context, userID string) ([]*model.ChannelCredential, error)
	UpdateStatus(ctx context.Context, userID string, provider model.Provider, status model.ChannelStatus) (bool, error)
}

// ChannelHandler はチャンネル連携情報のHTTPハンドラー。
type ChannelHandler struct {
	store ChannelStoreInterface
}

// NewChannelHandler はChannelHandlerを生成する。
func NewChannelHandler(store ChannelStoreInterface) *ChannelHandler {
	return &ChannelHandler{store: store}
}

// channelResponse はチャンネル一覧のレスポンス形。
// アクセストークン等の資格情報は含めない。
type channelResponse struct {
	Provider     string     `json:"provider"`
	AccountID    string     `json:"account_id"`
	DisplayName  string     `json:"display_name"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	Status       string     `json:"status"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	ConnectedAt  time.Time  `json:"connected_at"`
}

// ListChannels はユーザーの連携チャンネル一覧を返す。
// GET /api/channels
func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	creds, err := h.store.ListByUserID(r.Context(), userID)
	if err != nil {
		slog.Error("failed to list channels",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	channels := make([]channelResponse, 0, len(creds))
	for _, c := range creds {
		channels = append(channels, channelResponse{
			Provider:     string(c.Provider),
			AccountID:    c.ProviderAccountID,
			DisplayName:  c.DisplayName,
			AvatarURL:    c.AvatarURL,
			Status:       string(c.Status),
			LastSyncedAt: c.LastSyncedAt,
			ConnectedAt:  c.UpdatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"channels": channels,
	})
}

// Disconnect はチャンネル連携をソフト切断する。
// DELETE /api/channels/{provider}
// レコードは残し、statusのみdisconnectedに変更する。再連携で復活する。
func (h *ChannelHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	provider := chi.URLParam(r, "provider")
	if !model.ValidProvider(provider) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewUnknownProviderError(provider))
		return
	}

	updated, err := h.store.UpdateStatus(r.Context(), userID, model.Provider(provider), model.ChannelDisconnected)
	if err != nil {
		slog.Error("failed to disconnect channel",
			slog.String("user_id", userID),
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}
	if !updated {
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewChannelNotFoundError(provider))
		return
	}

	slog.Info("channel disconnected",
		slog.String("user_id", userID),
		slog.String("provider", provider),
	)
	w.WriteHeader(http.StatusNoContent)
}
