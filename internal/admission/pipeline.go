// Package admission implements the ordered checks a message passes through
// before it is persisted and fanned out: validation, content moderation,
// presence snapshot, policy filtering, daily limits, persistence, delivery.
package admission

import (
	"context"
	"errors"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Joginder1706/backend-socket/internal/chat"
	"github.com/Joginder1706/backend-socket/internal/filter"
	"github.com/Joginder1706/backend-socket/internal/metrics"
	"github.com/Joginder1706/backend-socket/internal/moderation"
	"github.com/Joginder1706/backend-socket/internal/store"
)

// Store is the subset of the relational store the pipeline consumes.
type Store interface {
	// SaveMessage persists the message and its chat aggregate atomically.
	SaveMessage(ctx context.Context, msg *chat.Message) (int64, error)
	// GetFilterProfile returns nil, nil when the user has no saved profile.
	GetFilterProfile(ctx context.Context, userID chat.UserID) (*filter.Profile, error)
	// GetLocationAndAttributes returns nil, nil when the user is unknown.
	GetLocationAndAttributes(ctx context.Context, userID chat.UserID) (*filter.Attributes, error)
	// GetPlanTier returns "" when the user has no plan.
	GetPlanTier(ctx context.Context, userID chat.UserID) (string, error)
	// GetDailyFreeLimit returns store.ErrNotFound when no limit is configured.
	GetDailyFreeLimit(ctx context.Context) (int, error)
	CountMessagesSentToday(ctx context.Context, userID chat.UserID) (int, error)
}

// Presence answers focus questions about live connections.
type Presence interface {
	IsOnline(userID chat.UserID) bool
	FocusOf(owner chat.UserID) chat.UserID
	IsFocusedOn(owner, counterpart chat.UserID) bool
}

// Deliverer fans a persisted message out to live connections.
type Deliverer interface {
	DeliverMessage(msg *chat.Message, receiverOnline bool) int
}

// Publisher receives moderation events. It may be nil.
type Publisher interface {
	PublishFlagged(ctx context.Context, ev moderation.FlaggedEvent) error
}

// Config holds plan-tier settings for the pipeline.
type Config struct {
	FreePlan       string
	PinnedPlans    []string
	DailyFreeLimit int // used when the store has no configured limit
}

// DefaultConfig returns a Config with the production plan names.
func DefaultConfig() Config {
	return Config{
		FreePlan:       "free",
		PinnedPlans:    []string{"premium", "vip"},
		DailyFreeLimit: 10,
	}
}

// Request is one inbound message as submitted by a client.
type Request struct {
	SenderID        chat.UserID
	ReceiverID      chat.UserID
	Text            string
	ImageURL        string
	ClientTimestamp string
}

// Result describes an admitted message.
type Result struct {
	Message        *chat.Message
	ReceiverOnline bool
	Delivered      int
}

// Pipeline admits messages. It is safe for concurrent use; nothing is cached
// between calls so filter profiles and presence are always read fresh.
type Pipeline struct {
	store     Store
	presence  Presence
	deliverer Deliverer
	publisher Publisher
	filter    *moderation.Filter
	cfg       Config
	now       func() time.Time
}

// NewPipeline creates a Pipeline. publisher may be nil.
func NewPipeline(st Store, presence Presence, deliverer Deliverer, publisher Publisher, cfg Config) *Pipeline {
	return &Pipeline{
		store:     st,
		presence:  presence,
		deliverer: deliverer,
		publisher: publisher,
		filter:    moderation.NewFilter(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// Admit runs the message through every stage in order and returns the first
// rejection as an *Error. Nothing is persisted when a stage before
// persistence rejects.
func (p *Pipeline) Admit(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := p.admit(ctx, req)
	metrics.AdmissionLatency.Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		var aerr *Error
		if errors.As(err, &aerr) {
			metrics.MessagesTotal.WithLabelValues(aerr.Code).Inc()
		}
	case res.Message.IsRestricted:
		metrics.MessagesTotal.WithLabelValues("restricted").Inc()
	default:
		metrics.MessagesTotal.WithLabelValues("admitted").Inc()
	}
	return res, err
}

func (p *Pipeline) admit(ctx context.Context, req Request) (*Result, error) {
	// 1. Structural validation.
	if err := validate(req); err != nil {
		return nil, err
	}

	// 2. Content moderation.
	if check := p.filter.Check(req.Text); check.Blocked {
		p.publish(ctx, moderation.FlaggedEvent{
			Kind:       moderation.KindRejected,
			SenderID:   req.SenderID,
			ReceiverID: req.ReceiverID,
			Reasons:    []string{check.Reason},
			Term:       check.Term,
			Hints:      moderation.ContactHints(req.Text),
		})
		return nil, reject(CodeProhibitedContent, "message contains prohibited content")
	}

	// 3. Receiver presence and focus.
	selected := p.presence.IsFocusedOn(req.ReceiverID, req.SenderID)
	watching := p.presence.IsOnline(req.ReceiverID) &&
		p.presence.FocusOf(req.ReceiverID) == req.SenderID

	// 4. Policy filtering.
	verdict, err := p.evaluatePolicy(ctx, req)
	if err != nil {
		return nil, err
	}

	// 5. Plan tier and daily limit.
	pinned, err := p.checkPlan(ctx, req.SenderID)
	if err != nil {
		return nil, err
	}

	// 6. Persistence.
	msg := &chat.Message{
		SenderID:     req.SenderID,
		ReceiverID:   req.ReceiverID,
		Text:         req.Text,
		ImageURL:     req.ImageURL,
		Timestamp:    p.now(),
		IsRead:       !selected,
		IsPinned:     pinned,
		IsRestricted: verdict.Restricted,
	}
	id, err := p.store.SaveMessage(ctx, msg)
	if err != nil {
		return nil, storeError("save message", err)
	}
	msg.ID = id

	if verdict.Restricted {
		p.publish(ctx, moderation.FlaggedEvent{
			Kind:       moderation.KindRestricted,
			SenderID:   msg.SenderID,
			ReceiverID: msg.ReceiverID,
			MessageID:  msg.ID,
			Reasons:    verdict.Reasons,
		})
	}

	// 7. Fan-out.
	delivered := p.deliverer.DeliverMessage(msg, watching)

	return &Result{Message: msg, ReceiverOnline: watching, Delivered: delivered}, nil
}

func validate(req Request) error {
	switch {
	case req.SenderID <= 0:
		return reject(CodeInvalidInput, "senderId is required")
	case req.ReceiverID <= 0:
		return reject(CodeInvalidInput, "receiverId is required")
	case req.ClientTimestamp == "":
		return reject(CodeInvalidInput, "timestamp is required")
	}
	if err := chat.ValidateText(req.Text); err != nil {
		return &Error{Code: CodeInvalidInput, Message: "invalid message text", Err: err}
	}
	return nil
}

// evaluatePolicy reads the receiver's filter profile and, when one exists,
// both parties' attributes in parallel.
func (p *Pipeline) evaluatePolicy(ctx context.Context, req Request) (filter.Verdict, error) {
	profile, err := p.store.GetFilterProfile(ctx, req.ReceiverID)
	if err != nil {
		return filter.Verdict{}, storeError("load filter profile", err)
	}
	if profile == nil {
		return filter.Verdict{}, nil
	}

	var sender, receiver *filter.Attributes
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sender, err = p.store.GetLocationAndAttributes(gctx, req.SenderID)
		return err
	})
	g.Go(func() error {
		var err error
		receiver, err = p.store.GetLocationAndAttributes(gctx, req.ReceiverID)
		return err
	})
	if err := g.Wait(); err != nil {
		return filter.Verdict{}, storeError("load user attributes", err)
	}

	return filter.Evaluate(profile, req.Text, sender, receiver), nil
}

// checkPlan enforces the daily limit for free senders and reports whether
// the sender's tier auto-pins messages.
func (p *Pipeline) checkPlan(ctx context.Context, senderID chat.UserID) (bool, error) {
	tier, err := p.store.GetPlanTier(ctx, senderID)
	if err != nil {
		return false, storeError("load plan", err)
	}

	if tier == p.cfg.FreePlan {
		limit, err := p.store.GetDailyFreeLimit(ctx)
		if errors.Is(err, store.ErrNotFound) {
			limit, err = p.cfg.DailyFreeLimit, nil
		}
		if err != nil {
			return false, storeError("load daily limit", err)
		}
		sent, err := p.store.CountMessagesSentToday(ctx, senderID)
		if err != nil {
			return false, storeError("count messages", err)
		}
		if sent >= limit {
			return false, reject(CodeDailyLimitReached, "daily free message limit reached")
		}
	}

	for _, plan := range p.cfg.PinnedPlans {
		if tier == plan {
			return true, nil
		}
	}
	return false, nil
}

func (p *Pipeline) publish(ctx context.Context, ev moderation.FlaggedEvent) {
	if p.publisher == nil {
		return
	}
	ev.Ts = p.now().UnixMilli()
	if err := p.publisher.PublishFlagged(ctx, ev); err != nil {
		log.Printf("[admission] publish %s event sender=%s: %v", ev.Kind, ev.SenderID, err)
	}
}
