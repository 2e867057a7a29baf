// Package habits records daily treatment habits and derives goal progress,
// points and IMC-based recommendations from them.
package habits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vidaleve/backend/internal/database"
	"github.com/vidaleve/backend/internal/imc"
	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/progress"
)

var (
	ErrUnknownKind         = errors.New("unknown completion kind")
	ErrInvalidItem         = errors.New("item id is required")
	ErrInvalidAmount       = errors.New("water amount must be positive")
	ErrRewardNotFound      = errors.New("reward not found")
	ErrInsufficientPoints  = errors.New("insufficient points")
	ErrMissingMeasurements = errors.New("height and weight are required for recommendations")
)

// DefaultPoints is awarded the first time a user completes an item of each kind.
var DefaultPoints = map[string]int{
	models.CompletionExercise: 10,
	models.CompletionRecipe:   10,
	models.CompletionDetox:    15,
}

const defaultHistoryLimit = 50

type Config struct {
	Location *time.Location
	Points   map[string]int
}

type Service struct {
	db     database.TxBeginner
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db database.TxBeginner, store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Points == nil {
		cfg.Points = DefaultPoints
	}
	return &Service{db: db, store: store, cfg: cfg, logger: logger, now: time.Now}
}

// today is the current calendar date in the configured zone, as a UTC midnight
// suitable for a DATE column.
func (s *Service) today() time.Time {
	y, m, d := s.now().In(s.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type CapsuleResult struct {
	Date          string `json:"date"`
	AlreadyMarked bool   `json:"already_marked"`
}

// MarkCapsule records today's capsule. Repeated calls on the same day are no-ops.
func (s *Service) MarkCapsule(ctx context.Context, userID uuid.UUID) (*CapsuleResult, error) {
	day := s.today()
	inserted, err := s.store.MarkCapsule(ctx, userID, day)
	if err != nil {
		return nil, fmt.Errorf("mark capsule: %w", err)
	}
	return &CapsuleResult{Date: day.Format(time.DateOnly), AlreadyMarked: !inserted}, nil
}

type WaterResult struct {
	Date        string `json:"date"`
	TodayML     int    `json:"today_ml"`
	GoalML      int    `json:"goal_ml"`
	GoalReached bool   `json:"goal_reached"`
}

// LogWater adds an intake to today's total.
func (s *Service) LogWater(ctx context.Context, profile *models.Profile, amountML int) (*WaterResult, error) {
	if amountML <= 0 {
		return nil, ErrInvalidAmount
	}
	day := s.today()
	total, err := s.store.AddWater(ctx, profile.ID, day, amountML)
	if err != nil {
		return nil, fmt.Errorf("add water: %w", err)
	}
	goal := waterGoal(profile)
	return &WaterResult{
		Date:        day.Format(time.DateOnly),
		TodayML:     total,
		GoalML:      goal,
		GoalReached: total >= goal,
	}, nil
}

func waterGoal(p *models.Profile) int {
	if p.WaterGoalML > 0 {
		return p.WaterGoalML
	}
	return models.DefaultWaterGoalML
}

type CompletionResult struct {
	Kind             string `json:"kind"`
	ItemID           string `json:"item_id"`
	AlreadyCompleted bool   `json:"already_completed"`
	PointsAwarded    int    `json:"points_awarded"`
}

// Complete marks an exercise, recipe or detox item done. Points are awarded
// only the first time per item.
func (s *Service) Complete(ctx context.Context, userID uuid.UUID, kind, itemID string) (*CompletionResult, error) {
	if _, ok := completionTables[kind]; !ok {
		return nil, ErrUnknownKind
	}
	if itemID == "" {
		return nil, ErrInvalidItem
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	inserted, err := s.store.Complete(ctx, tx, userID, kind, itemID)
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", kind, err)
	}
	res := &CompletionResult{Kind: kind, ItemID: itemID, AlreadyCompleted: !inserted}
	if pts := s.cfg.Points[kind]; inserted && pts > 0 {
		awarded, err := s.store.AwardPoints(ctx, tx, userID, pts, kind+":"+itemID, "Concluiu "+kind)
		if err != nil {
			return nil, fmt.Errorf("award points: %w", err)
		}
		if awarded {
			res.PointsAwarded = pts
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

type GoalProgress struct {
	Counts progress.Counts `json:"counts"`
	progress.Result
}

// GoalProgress reads the user's habit counters and scores them.
func (s *Service) GoalProgress(ctx context.Context, profile *models.Profile) (*GoalProgress, error) {
	counts, err := s.store.Counts(ctx, profile.ID, waterGoal(profile))
	if err != nil {
		return nil, fmt.Errorf("count habits: %w", err)
	}
	return &GoalProgress{Counts: counts, Result: progress.Calculate(counts)}, nil
}

type PointsSummary struct {
	*models.PointsAccount
	History []*models.PointsEntry `json:"history"`
}

func (s *Service) Points(ctx context.Context, userID uuid.UUID) (*PointsSummary, error) {
	acct, err := s.store.Points(ctx, userID)
	if err != nil {
		return nil, err
	}
	hist, err := s.store.PointsHistory(ctx, userID, defaultHistoryLimit)
	if err != nil {
		return nil, err
	}
	return &PointsSummary{PointsAccount: acct, History: hist}, nil
}

func (s *Service) Rewards(ctx context.Context) ([]*models.Reward, error) {
	return s.store.ActiveRewards(ctx)
}

type RedeemResult struct {
	Redemption *models.RedeemedReward `json:"redemption"`
	NewBalance int                    `json:"new_balance"`
}

// Redeem spends points on a reward in one transaction.
func (s *Service) Redeem(ctx context.Context, userID, rewardID uuid.UUID) (*RedeemResult, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	reward, err := s.store.RewardByID(ctx, tx, rewardID)
	if err != nil {
		return nil, err
	}
	if !reward.Active {
		return nil, ErrRewardNotFound
	}
	balance, err := s.store.DeductPoints(ctx, tx, userID, reward.Cost)
	if err != nil {
		return nil, err
	}
	rr := &models.RedeemedReward{UserID: userID, RewardID: reward.ID, Cost: reward.Cost}
	if err := s.store.InsertRedemption(ctx, tx, rr); err != nil {
		return nil, fmt.Errorf("insert redemption: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("reward redeemed", "user_id", userID, "reward_id", reward.ID, "cost", reward.Cost)
	return &RedeemResult{Redemption: rr, NewBalance: balance}, nil
}

type Recommendations struct {
	IMC   imc.Result            `json:"imc"`
	Items []*models.ContentItem `json:"items"`
}

// Recommend lists content tagged for the user's IMC category. kind may be empty.
func (s *Service) Recommend(ctx context.Context, profile *models.Profile, kind string) (*Recommendations, error) {
	if kind != "" {
		if _, ok := completionTables[kind]; !ok {
			return nil, ErrUnknownKind
		}
	}
	if profile.HeightCM == nil || profile.WeightKG == nil {
		return nil, ErrMissingMeasurements
	}
	res, err := imc.Evaluate(*profile.HeightCM, *profile.WeightKG)
	if err != nil {
		return nil, err
	}
	items, err := s.store.Content(ctx, kind, string(res.Category))
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	return &Recommendations{IMC: res, Items: items}, nil
}
