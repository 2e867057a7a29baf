package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/imc"
	"github.com/vidaleve/backend/internal/middleware"
	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/notify"
	"github.com/vidaleve/backend/internal/repository"
)

type ProfileStore interface {
	Update(ctx context.Context, id uuid.UUID, u repository.ProfileUpdate) (*models.Profile, error)
	Approve(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// ProfileHandler serves the caller's profile and admin approval.
type ProfileHandler struct {
	Profiles ProfileStore
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

type treatmentView struct {
	Day       int `json:"day"`
	TotalDays int `json:"total_days,omitempty"`
}

type profileView struct {
	*models.Profile
	IMC       *imc.Result    `json:"imc,omitempty"`
	Treatment *treatmentView `json:"treatment,omitempty"`
}

func (h *ProfileHandler) view(p *models.Profile) profileView {
	v := profileView{Profile: p}
	if p.HeightCM != nil && p.WeightKG != nil {
		if res, err := imc.Evaluate(*p.HeightCM, *p.WeightKG); err == nil {
			v.IMC = &res
		}
	}
	if p.TreatmentStartDate != nil {
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		loc := h.Location
		if loc == nil {
			loc = time.UTC
		}
		t := &treatmentView{Day: notify.TreatmentDay(*p.TreatmentStartDate, now(), loc)}
		if p.KitType != nil {
			t.TotalDays = models.TreatmentDays(*p.KitType)
		}
		v.Treatment = t
	}
	return v
}

// Get handles GET /profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, h.view(p))
}

type profileUpdateRequest struct {
	FullName           *string          `json:"full_name"`
	TreatmentStartDate *string          `json:"treatment_start_date"`
	KitType            *int             `json:"kit_type"`
	HeightCM           *decimal.Decimal `json:"height_cm"`
	WeightKG           *decimal.Decimal `json:"weight_kg"`
	WaterGoalML        *int             `json:"water_goal_ml"`
}

// Update handles PATCH /profile. Absent fields are left unchanged.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req profileUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u := repository.ProfileUpdate{
		KitType:     req.KitType,
		HeightCM:    req.HeightCM,
		WeightKG:    req.WeightKG,
		WaterGoalML: req.WaterGoalML,
	}
	if req.FullName != nil {
		name := strings.TrimSpace(*req.FullName)
		u.FullName = &name
	}
	if req.TreatmentStartDate != nil {
		d, err := time.Parse(time.DateOnly, *req.TreatmentStartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "treatment_start_date must be YYYY-MM-DD")
			return
		}
		u.TreatmentStartDate = &d
	}
	if req.KitType != nil && models.TreatmentDays(*req.KitType) == 0 {
		writeError(w, http.StatusBadRequest, "kit_type must be 1, 3 or 5")
		return
	}
	updated, err := h.Profiles.Update(r.Context(), p.ID, u)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "update profile", err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(updated))
}

// Approve handles POST /admin/profiles/{id}/approve.
func (h *ProfileHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile id")
		return
	}
	p, err := h.Profiles.Approve(r.Context(), id)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "approve profile", err)
		return
	}
	if admin := middleware.ProfileFromCtx(r.Context()); admin != nil {
		orDefault(h.Logger).Info("profile approved", "profile_id", id, "by", admin.ID)
	}
	writeJSON(w, http.StatusOK, h.view(p))
}
