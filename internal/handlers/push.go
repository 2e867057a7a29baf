package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vidaleve/backend/internal/middleware"
	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/notify"
)

type Notifier interface {
	SendTest(ctx context.Context, userID uuid.UUID) (int, error)
	Bulk(ctx context.Context, typ, title, body string) (*notify.RunResult, error)
	Settings(ctx context.Context, userID uuid.UUID) (*models.NotificationSettings, error)
	SaveSettings(ctx context.Context, st *models.NotificationSettings) error
}

type SubscriptionStore interface {
	Upsert(ctx context.Context, s *models.PushSubscription) (*models.PushSubscription, error)
	DeleteByEndpoint(ctx context.Context, userID uuid.UUID, endpoint string) error
}

// PushHandler serves push notification sending, browser subscriptions and
// reminder settings.
type PushHandler struct {
	Notify         Notifier
	Subscriptions  SubscriptionStore
	VAPIDPublicKey string
	Logger         *slog.Logger
}

type sendPushRequest struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Send handles POST /send-push-notification. "test" targets the caller, or
// another user when the caller is an admin; bulk types are admin-only.
func (h *PushHandler) Send(w http.ResponseWriter, r *http.Request) {
	logger := orDefault(h.Logger)
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req sendPushRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Type != notify.TypeTest {
		if !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		res, err := h.Notify.Bulk(r.Context(), req.Type, req.Title, req.Body)
		if err != nil {
			writeServiceError(w, logger, "bulk push", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sent": res.Enqueued, "users": res.Due})
		return
	}

	target := p.ID
	if req.UserID != "" {
		id, err := uuid.Parse(req.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid userId")
			return
		}
		if id != p.ID && !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		target = id
	}
	n, err := h.Notify.SendTest(r.Context(), target)
	if err != nil {
		writeServiceError(w, logger, "test push", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "sent": n})
}

type subscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Subscribe handles POST /push-subscriptions with a browser PushSubscription JSON.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req subscriptionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sub, err := h.Subscriptions.Upsert(r.Context(), &models.PushSubscription{
		UserID:    p.ID,
		Endpoint:  req.Endpoint,
		P256dh:    req.Keys.P256dh,
		Auth:      req.Keys.Auth,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "save push subscription", err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /push-subscriptions {endpoint}.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if err := h.Subscriptions.DeleteByEndpoint(r.Context(), p.ID, req.Endpoint); err != nil {
		writeServiceError(w, orDefault(h.Logger), "delete push subscription", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /notification-settings.
func (h *PushHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	st, err := h.Notify.Settings(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "get notification settings", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PutSettings handles PUT /notification-settings.
func (h *PushHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var st models.NotificationSettings
	if !decodeJSON(w, r, &st) {
		return
	}
	st.UserID = p.ID
	if err := h.Notify.SaveSettings(r.Context(), &st); err != nil {
		writeServiceError(w, orDefault(h.Logger), "save notification settings", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PublicKey handles GET /push/vapid-public-key so the browser can subscribe.
func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	if h.VAPIDPublicKey == "" {
		writeError(w, http.StatusServiceUnavailable, "push is not configured")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.VAPIDPublicKey})
}
