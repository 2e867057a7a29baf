// Package notify decides which push notifications are due and hands them to
// the delivery queue. A sent-notification ledger row is claimed in the same
// transaction that enqueues the deliveries, so each notification goes out once
// no matter how often a scan runs.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vidaleve/backend/internal/database"
	"github.com/vidaleve/backend/internal/metrics"
	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/webpush"
)

var (
	// ErrUndeliverable marks failures a retry cannot fix.
	ErrUndeliverable = errors.New("notification cannot be delivered")
	ErrNoSubscribers = errors.New("user has no push subscriptions")
	ErrUnknownType   = errors.New("unknown notification type")
)

// Admin-triggered notification types.
const (
	TypeTest      = "test"
	TypeBroadcast = "broadcast"
	TypeWater     = "water_reminder"
	TypeCapsule   = "capsule_reminder"
)

// Message is the JSON payload the service worker renders.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Delivery is one message for one subscription; it is the queued job payload.
type Delivery struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	Endpoint       string    `json:"endpoint"`
	P256dh         string    `json:"p256dh"`
	Auth           string    `json:"auth"`
	Message        Message   `json:"message"`
	Urgency        string    `json:"urgency,omitempty"`
	TTLSeconds     int       `json:"ttl_seconds"`
}

// Enqueuer queues deliveries inside the caller's transaction.
type Enqueuer interface {
	EnqueueTx(ctx context.Context, tx pgx.Tx, deliveries []Delivery) error
}

type Pusher interface {
	Send(ctx context.Context, sub webpush.Subscription, payload []byte, opts webpush.Options) error
}

type Config struct {
	Location *time.Location
	AppURL   string
	TTL      time.Duration
}

type Service struct {
	db       database.TxBeginner
	store    Store
	enqueuer Enqueuer
	pusher   Pusher
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the scheduler. pusher may be nil when VAPID keys are not
// configured; deliveries then fail as undeliverable.
func NewService(db database.TxBeginner, store Store, enqueuer Enqueuer, pusher Pusher, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	return &Service{db: db, store: store, enqueuer: enqueuer, pusher: pusher, cfg: cfg, logger: logger, now: time.Now}
}

type RunResult struct {
	Due      int `json:"due"`
	Claimed  int `json:"claimed"`
	Enqueued int `json:"enqueued"`
}

func (r *RunResult) add(enqueued int, claimed bool) {
	if claimed {
		r.Claimed++
	}
	r.Enqueued += enqueued
}

// ScanMilestones enqueues today's milestone notification for every profile
// whose treatment day is in the milestone table.
func (s *Service) ScanMilestones(ctx context.Context) (*RunResult, error) {
	now := s.now()
	today := Today(now, s.cfg.Location)
	candidates, err := s.store.MilestoneCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list milestone candidates: %w", err)
	}
	res := &RunResult{}
	for _, c := range candidates {
		day := TreatmentDay(c.TreatmentStartDate, now, s.cfg.Location)
		m, ok := MilestoneFor(day)
		if !ok {
			continue
		}
		res.Due++
		msg := Message{Title: m.Title, Body: m.Body, Tag: MilestoneTag(day, today), URL: s.cfg.AppURL + "/progresso"}
		key := fmt.Sprintf("day-%d-%s", day, c.TreatmentStartDate.Format(time.DateOnly))
		n, claimed, err := s.dispatch(ctx, c.UserID, models.NotificationMilestone, key, msg, webpush.UrgencyNormal)
		if err != nil {
			s.logger.Error("milestone dispatch", "user_id", c.UserID, "day", day, "error", err)
			continue
		}
		res.add(n, claimed)
	}
	s.logger.Info("milestone scan finished", "candidates", len(candidates), "due", res.Due, "claimed", res.Claimed, "enqueued", res.Enqueued)
	return res, nil
}

// SendHabitReminders enqueues water and capsule reminders due in the current
// local hour, skipping habits already done today.
func (s *Service) SendHabitReminders(ctx context.Context) (*RunResult, error) {
	local := s.now().In(s.cfg.Location)
	today := Today(local, s.cfg.Location)
	hour := int32(local.Hour())
	targets, err := s.store.ReminderTargets(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list reminder targets: %w", err)
	}
	res := &RunResult{}
	for _, t := range targets {
		st := t.Settings
		if st.WaterEnabled && slices.Contains(st.WaterHours, hour) && t.WaterTodayML < t.WaterGoalML {
			res.Due++
			msg := waterMessage(t.WaterTodayML, t.WaterGoalML)
			msg.Tag = fmt.Sprintf("water-%s-%02d", today.Format(time.DateOnly), hour)
			msg.URL = s.cfg.AppURL + "/habitos"
			key := fmt.Sprintf("%s-%02d", today.Format(time.DateOnly), hour)
			n, claimed, err := s.dispatch(ctx, st.UserID, models.NotificationWater, key, msg, webpush.UrgencyLow)
			if err != nil {
				s.logger.Error("water reminder dispatch", "user_id", st.UserID, "error", err)
			} else {
				res.add(n, claimed)
			}
		}
		if st.CapsuleEnabled && st.CapsuleHour == hour && !t.CapsuleTaken {
			res.Due++
			msg := capsuleMessage()
			msg.Tag = "capsule-" + today.Format(time.DateOnly)
			msg.URL = s.cfg.AppURL + "/habitos"
			n, claimed, err := s.dispatch(ctx, st.UserID, models.NotificationCapsule, today.Format(time.DateOnly), msg, webpush.UrgencyNormal)
			if err != nil {
				s.logger.Error("capsule reminder dispatch", "user_id", st.UserID, "error", err)
			} else {
				res.add(n, claimed)
			}
		}
	}
	s.logger.Info("habit reminders finished", "hour", hour, "targets", len(targets), "due", res.Due, "enqueued", res.Enqueued)
	return res, nil
}

func waterMessage(done, goal int) Message {
	return Message{
		Title: "Hora de beber água 💧",
		Body:  fmt.Sprintf("Você já bebeu %d ml de %d ml hoje.", done, goal),
	}
}

func capsuleMessage() Message {
	return Message{Title: "Hora da cápsula", Body: "Não esqueça de tomar sua cápsula de hoje."}
}

// SendTest queues a test notification to every subscription of userID.
func (s *Service) SendTest(ctx context.Context, userID uuid.UUID) (int, error) {
	msg := Message{Title: "Notificações ativadas", Body: "Você receberá seus lembretes por aqui.", URL: s.cfg.AppURL}
	n, _, err := s.dispatch(ctx, userID, "", "", msg, webpush.UrgencyNormal)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNoSubscribers
	}
	return n, nil
}

// Bulk sends an admin-triggered notification of typ to every subscribed user.
// Broadcast messages carry the given title and body; reminder types use the
// standard reminder copy.
func (s *Service) Bulk(ctx context.Context, typ, title, body string) (*RunResult, error) {
	var msg Message
	switch typ {
	case TypeBroadcast:
		if title == "" || body == "" {
			return nil, fmt.Errorf("%w: broadcast needs title and body", ErrUnknownType)
		}
		msg = Message{Title: title, Body: body}
	case TypeWater:
		msg = Message{Title: "Hora de beber água 💧", Body: "Mantenha sua hidratação em dia."}
	case TypeCapsule:
		msg = capsuleMessage()
	default:
		return nil, ErrUnknownType
	}
	msg.URL = s.cfg.AppURL
	users, err := s.store.UsersWithSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	res := &RunResult{Due: len(users)}
	for _, id := range users {
		n, _, err := s.dispatch(ctx, id, "", "", msg, webpush.UrgencyNormal)
		if err != nil {
			s.logger.Error("bulk dispatch", "user_id", id, "type", typ, "error", err)
			continue
		}
		res.Enqueued += n
	}
	return res, nil
}

// dispatch claims (kind, key) for userID when kind is set and enqueues one
// delivery per subscription, all in one transaction. Users without
// subscriptions are not claimed so a later subscription still gets the message.
func (s *Service) dispatch(ctx context.Context, userID uuid.UUID, kind, key string, msg Message, urgency string) (int, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	subs, err := s.store.SubscriptionsTx(ctx, tx, userID)
	if err != nil {
		return 0, false, err
	}
	if len(subs) == 0 {
		return 0, false, nil
	}
	claimed := false
	if kind != "" {
		ok, err := s.store.Claim(ctx, tx, userID, kind, key)
		if err != nil {
			return 0, false, fmt.Errorf("claim notification: %w", err)
		}
		if !ok {
			return 0, false, nil
		}
		claimed = true
	}
	deliveries := make([]Delivery, 0, len(subs))
	for _, sub := range subs {
		deliveries = append(deliveries, Delivery{
			SubscriptionID: sub.ID,
			UserID:         userID,
			Endpoint:       sub.Endpoint,
			P256dh:         sub.P256dh,
			Auth:           sub.Auth,
			Message:        msg,
			Urgency:        urgency,
			TTLSeconds:     int(s.cfg.TTL.Seconds()),
		})
	}
	if err := s.enqueuer.EnqueueTx(ctx, tx, deliveries); err != nil {
		return 0, false, fmt.Errorf("enqueue deliveries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	if claimed {
		metrics.RecordNotificationClaimed(kind)
	}
	return len(deliveries), claimed, nil
}

// Deliver pushes one queued delivery. A subscription the push service reports
// as gone is deleted and the delivery counts as done.
func (s *Service) Deliver(ctx context.Context, d Delivery) error {
	if s.pusher == nil {
		metrics.RecordPushDelivery("disabled")
		return fmt.Errorf("%w: web push is not configured", ErrUndeliverable)
	}
	payload, err := json.Marshal(d.Message)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUndeliverable, err)
	}
	sub := webpush.Subscription{Endpoint: d.Endpoint, P256dh: d.P256dh, Auth: d.Auth}
	opts := webpush.Options{TTL: time.Duration(d.TTLSeconds) * time.Second, Urgency: d.Urgency, Topic: topic(d.Message.Tag)}
	err = s.pusher.Send(ctx, sub, payload, opts)
	switch {
	case err == nil:
		metrics.RecordPushDelivery("sent")
		return nil
	case errors.Is(err, webpush.ErrSubscriptionGone):
		metrics.RecordPushDelivery("gone")
		s.logger.Info("removing expired push subscription", "subscription_id", d.SubscriptionID, "user_id", d.UserID)
		return s.store.DeleteSubscription(ctx, d.SubscriptionID)
	case errors.Is(err, webpush.ErrPayloadTooLarge), errors.Is(err, webpush.ErrInvalidKeys):
		metrics.RecordPushDelivery("rejected")
		return fmt.Errorf("%w: %w", ErrUndeliverable, err)
	default:
		metrics.RecordPushDelivery("error")
		return err
	}
}

// topic derives a Topic header (max 32 url-safe chars) from the tag so a
// newer undelivered message replaces an older one on the push service.
func topic(tag string) string {
	out := make([]byte, 0, 32)
	for i := 0; i < len(tag) && len(out) < 32; i++ {
		c := tag[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' {
			out = append(out, c)
		}
	}
	return string(out)
}

// Settings returns the user's reminder settings, defaults when never saved.
func (s *Service) Settings(ctx context.Context, userID uuid.UUID) (*models.NotificationSettings, error) {
	return s.store.Settings(ctx, userID)
}

var ErrInvalidSettings = errors.New("hours must be between 0 and 23")

func (s *Service) SaveSettings(ctx context.Context, st *models.NotificationSettings) error {
	if st.CapsuleHour < 0 || st.CapsuleHour > 23 {
		return ErrInvalidSettings
	}
	for _, h := range st.WaterHours {
		if h < 0 || h > 23 {
			return ErrInvalidSettings
		}
	}
	slices.Sort(st.WaterHours)
	st.WaterHours = slices.Compact(st.WaterHours)
	if st.WaterHours == nil {
		st.WaterHours = []int32{}
	}
	return s.store.SaveSettings(ctx, st)
}
