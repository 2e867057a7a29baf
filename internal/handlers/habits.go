package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vidaleve/backend/internal/habits"
	"github.com/vidaleve/backend/internal/middleware"
	"github.com/vidaleve/backend/internal/models"
)

type HabitTracker interface {
	MarkCapsule(ctx context.Context, userID uuid.UUID) (*habits.CapsuleResult, error)
	LogWater(ctx context.Context, profile *models.Profile, amountML int) (*habits.WaterResult, error)
	Complete(ctx context.Context, userID uuid.UUID, kind, itemID string) (*habits.CompletionResult, error)
	GoalProgress(ctx context.Context, profile *models.Profile) (*habits.GoalProgress, error)
	Points(ctx context.Context, userID uuid.UUID) (*habits.PointsSummary, error)
	Rewards(ctx context.Context) ([]*models.Reward, error)
	Redeem(ctx context.Context, userID, rewardID uuid.UUID) (*habits.RedeemResult, error)
	Recommend(ctx context.Context, profile *models.Profile, kind string) (*habits.Recommendations, error)
}

// HabitsHandler serves habit tracking, goal progress, points and recommendations.
type HabitsHandler struct {
	Habits HabitTracker
	Logger *slog.Logger
}

// authed wraps a handler that needs the caller's profile.
func authed(fn func(w http.ResponseWriter, r *http.Request, p *models.Profile)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := middleware.ProfileFromCtx(r.Context())
		if p == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		fn(w, r, p)
	}
}

// MarkCapsule handles POST /habits/capsule.
func (h *HabitsHandler) MarkCapsule(w http.ResponseWriter, r *http.Request) {
	authed(func(w http.ResponseWriter, r *http.Request, p *models.Profile) {
		res, err := h.Habits.MarkCapsule(r.Context(), p.ID)
		if err != nil {
			writeServiceError(w, orDefault(h.Logger), "mark capsule", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})(w, r)
}

// LogWater handles POST /habits/water {amount_ml}.
func (h *HabitsHandler) LogWater(w http.ResponseWriter, r *http.Request) {
	authed(func(w http.ResponseWriter, r *http.Request, p *models.Profile) {
		var req struct {
			AmountML int `json:"amount_ml"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.Habits.LogWater(r.Context(), p, req.AmountML)
		if err != nil {
			writeServiceError(w, orDefault(h.Logger), "log water", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})(w, r)
}

// Complete handles POST /completions/{kind}/{itemID}.
func (h *HabitsHandler) Complete(w http.ResponseWriter, r *http.Request) {
	authed(func(w http.ResponseWriter, r *http.Request, p *models.Profile) {
		res, err := h.Habits.Complete(r.Context(), p.ID, r.PathValue("kind"), r.PathValue("itemID"))
		if err != nil {
			writeServiceError(w, orDefault(h.Logger), "complete item", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})(w, r)
}

// GoalProgress handles GET /goal-progress.
func (h *HabitsHandler) GoalProgress(w http.ResponseWriter, r *http.Request) {
	authed(func(w http.ResponseWriter, r *http.Request, p *models.Profile) {
		res, err := h.Habits.GoalProgress(r.Context(), p)
		if err != nil {
			writeServiceError(w, orDefault(h.Logger), "goal progress", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})(w, r)
}

// Points handles GET /points.
func (h *HabitsHandler) Points(w http.ResponseWriter, r *http.Request) {
	authed(func(w http.ResponseWriter, r *http.Request, p *models.Profile) {
		res, err := h.Habits.Points(r.Context(), p.ID)
		if err != nil {
			writeServiceError(w, orDefault(h.Logger), "points", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})(w, r)
}

// Rewards handles GET /rewards.
func (h *HabitsHandler) Rewards(w http.ResponseWriter, r *http.Request) {
	list, err := h.Habits.Rewards(r.Context())
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "list rewards", err)
		return
	}
	if list == nil {
		list = []*models.Reward{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rewards": list})
}

// Redeem handles POST /rewards/{id}/redeem.
func (h *HabitsHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	authed(func(w http.ResponseWriter, r *http.Request, p *models.Profile) {
		id, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid reward id")
			return
		}
		res, err := h.Habits.Redeem(r.Context(), p.ID, id)
		if err != nil {
			writeServiceError(w, orDefault(h.Logger), "redeem reward", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})(w, r)
}

// Recommendations handles GET /recommendations?kind=recipe|exercise|detox.
func (h *HabitsHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	authed(func(w http.ResponseWriter, r *http.Request, p *models.Profile) {
		res, err := h.Habits.Recommend(r.Context(), p, r.URL.Query().Get("kind"))
		if err != nil {
			writeServiceError(w, orDefault(h.Logger), "recommendations", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})(w, r)
}
