package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/DailyMentor/internal/models"
	"github.com/BTreeMap/DailyMentor/internal/store"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Tribute-Signature"

// OutboxKindPayment is the outbox kind of payment confirmations.
const OutboxKindPayment = "payment.success"

// StatusPaid is the only webhook status that changes a subscription.
const StatusPaid = "paid"

// Subscription periods.
const (
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
)

var (
	// ErrBadExternalID is returned for external ids not shaped <tg_id>_<plan>_<period>.
	ErrBadExternalID = errors.New("invalid external_id")
	// ErrUnknownPeriod is returned for periods other than monthly and yearly.
	ErrUnknownPeriod = errors.New("unknown subscription period")
)

// TributeEvent is the webhook body.
type TributeEvent struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Plan       string `json:"plan,omitempty"`
	Period     string `json:"period,omitempty"`
	Amount     any    `json:"amount,omitempty"`
	Currency   string `json:"currency,omitempty"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// deliveryID distinguishes renewals that reuse the same external id.
func (e TributeEvent) deliveryID() string {
	if e.CreatedAt == "" {
		return e.ExternalID
	}
	return e.ExternalID + "@" + e.CreatedAt
}

// Purchase is a decoded external id.
type Purchase struct {
	UserID int64
	Tier   models.PlanTier
	Period string
}

// ParseExternalID decodes <tg_id>_<plan>_<period>.
func ParseExternalID(id string) (Purchase, error) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 {
		return Purchase{}, fmt.Errorf("%w: %q", ErrBadExternalID, id)
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || userID <= 0 {
		return Purchase{}, fmt.Errorf("%w: user id %q", ErrBadExternalID, parts[0])
	}
	tier, ok := models.ParsePlanTier(parts[1])
	if !ok || tier == models.TierFree {
		return Purchase{}, fmt.Errorf("%w: plan %q", ErrBadExternalID, parts[1])
	}
	if _, err := PeriodLength(parts[2]); err != nil {
		return Purchase{}, err
	}
	return Purchase{UserID: userID, Tier: tier, Period: parts[2]}, nil
}

// PeriodLength returns how long a period extends a subscription.
func PeriodLength(period string) (time.Duration, error) {
	switch period {
	case PeriodMonthly:
		return 30 * 24 * time.Hour, nil
	case PeriodYearly:
		return 365 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body. An empty secret rejects everything.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	return hmac.Equal(got, want)
}

func (s *Server) tributeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		slog.Warn("Server.tributeWebhookHandler: failed to read body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Failed to read body"))
		return
	}
	if !VerifySignature(s.opts.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		slog.Warn("Server.tributeWebhookHandler: invalid signature")
		writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid signature"))
		return
	}

	var ev TributeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		slog.Warn("Server.tributeWebhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if ev.Status != StatusPaid {
		slog.Info("Server.tributeWebhookHandler: ignoring event", "externalID", ev.ExternalID, "status", ev.Status)
		writeJSONResponse(w, http.StatusOK, models.Ignored("status "+ev.Status))
		return
	}
	purchase, err := ParseExternalID(ev.ExternalID)
	if err != nil {
		slog.Warn("Server.tributeWebhookHandler: bad external id", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	applied, err := s.applyPayment(r.Context(), ev, purchase)
	if err != nil {
		slog.Error("Server.tributeWebhookHandler: payment processing failed", "externalID", ev.ExternalID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Payment processing failed"))
		return
	}
	if !applied {
		writeJSONResponse(w, http.StatusOK, models.Ignored("duplicate delivery"))
		return
	}
	slog.Info("Server.tributeWebhookHandler: payment processed", "userID", purchase.UserID, "tier", purchase.Tier, "period", purchase.Period)
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"external_id": ev.ExternalID}))
}

// applyPayment upgrades the user once per delivery and queues the confirmation.
// It returns false when the delivery was already processed.
//
// The delivery is marked seen only after every write succeeded, so a provider
// retry after a failure resumes a payment that was recorded but not applied.
func (s *Server) applyPayment(ctx context.Context, ev TributeEvent, p Purchase) (bool, error) {
	key := "tribute:" + ev.deliveryID()
	dup, err := s.repos.IsDuplicate(ctx, key)
	if err != nil {
		return false, err
	}
	if dup {
		return false, nil
	}

	now := s.opts.Clock.Now()
	length, _ := PeriodLength(p.Period)
	until := now.Add(length)

	u, err := s.repos.GetUser(ctx, p.UserID)
	if err != nil {
		return false, err
	}
	if u == nil {
		created := models.NewUser(p.UserID, now, 0)
		if err := s.repos.UpsertUser(ctx, created); err != nil {
			return false, err
		}
		u = &created
	}

	recorded, err := s.repos.RecordPayment(ctx, models.Payment{
		ExternalID: ev.deliveryID(),
		UserID:     p.UserID,
		PlanTier:   p.Tier,
		Period:     p.Period,
		Status:     ev.Status,
		ExpiresAt:  until,
		CreatedAt:  now,
	})
	if err != nil {
		return false, err
	}
	if !recorded {
		slog.Info("Server.applyPayment: resuming recorded payment", "key", key, "userID", p.UserID)
	}
	if err := s.repos.SetPlan(ctx, p.UserID, p.Tier, until); err != nil {
		return false, err
	}

	msg := models.Text(s.texts.Format(u.Locale, "payment.success", p.Tier, p.Period, until.In(u.Location()).Format(models.DateLayout)))
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, err
	}
	if _, err := s.repos.EnqueueOutboxMessage(ctx, p.UserID, OutboxKindPayment, string(payload), key); err != nil {
		return false, fmt.Errorf("enqueue confirmation: %w", err)
	}

	if _, err := s.repos.RecordInbound(ctx, key, p.UserID); err != nil {
		slog.Warn("Server.applyPayment: failed to record delivery", "key", key, "error", err)
	} else if err := s.repos.MarkProcessed(ctx, key); err != nil {
		slog.Warn("Server.applyPayment: failed to mark delivery processed", "key", key, "error", err)
	}
	return true, nil
}

var _ Repos = store.DurableStore(nil)
