// Package lifecycle is the post state machine. It moves points through the
// ledger, persists status through the post store and notifies the parties.
//
// Every transition follows one commit order: debits run before the guarded
// post write and are refunded if the write loses a race; credits run only
// after the write succeeds; notifications and broadcasts come last.
package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitter-points-backend/pkg/broadcast"
	"sitter-points-backend/pkg/ledger"
	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/posts"
)

// Ledger moves member points.
type Ledger interface {
	CheckSufficient(ctx context.Context, memberID string, amount int) (bool, error)
	Adjust(ctx context.Context, memberID string, delta int, reason ledger.Reason) (int, error)
}

// PostStore persists posts.
type PostStore interface {
	Create(ctx context.Context, post models.Post) (*models.Post, error)
	GetByID(ctx context.Context, id string) (*models.Post, error)
	GuardedTransition(ctx context.Context, id string, guard posts.Guard, patch models.PostPatch) (*models.Post, error)
}

// Notifier persists notifications and emits broadcast events.
type Notifier interface {
	Notify(ctx context.Context, memberID, postID, message string) (*models.Notification, error)
	NotifyMany(ctx context.Context, recipients []string, postID string, message func(memberID string) string) ([]models.Notification, error)
	BroadcastAll(ev broadcast.Event)
	BroadcastTo(memberIDs []string, ev broadcast.Event)
}

// PostInput carries the caller-editable fields of a post.
type PostInput struct {
	Type        models.PostType
	HoursNeeded int
	Description string
	DateTime    time.Time
}

var (
	whileOpen     = []models.PostStatus{models.PostStatusAccepted, models.PostStatusCompleted, models.PostStatusCancelled}
	whileAccepted = []models.PostStatus{models.PostStatusOpen, models.PostStatusCompleted, models.PostStatusCancelled}
	notTerminal   = []models.PostStatus{models.PostStatusCompleted, models.PostStatusCancelled}
)

// Engine runs post transitions. It keeps no state between calls.
type Engine struct {
	ledger   Ledger
	posts    PostStore
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for date validation.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New wires an Engine.
func New(l Ledger, store PostStore, notifier Notifier, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		ledger:   l,
		posts:    store,
		notifier: notifier,
		log:      log.Named("lifecycle"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create publishes a new open post. A request holds its cost from the
// caller's balance until it is completed or cancelled.
func (e *Engine) Create(ctx context.Context, callerID string, in PostInput) (*models.Post, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := e.validate(callerID, in); err != nil {
		return nil, err
	}

	post := models.Post{
		ID:          uuid.NewString(),
		PostedBy:    callerID,
		Type:        in.Type,
		HoursNeeded: in.HoursNeeded,
		Description: in.Description,
		DateTime:    in.DateTime,
	}

	if post.Type == models.PostTypeRequest {
		reason := ledger.Reason{PostID: post.ID, Kind: models.ReasonHold}
		if err := e.debit(ctx, callerID, post.HoursNeeded, reason); err != nil {
			return nil, err
		}
	}

	created, err := e.posts.Create(ctx, post)
	if err != nil {
		if post.Type == models.PostTypeRequest {
			e.unreconciled("post insert failed after hold", callerID, post.HoursNeeded, post.ID, err)
		}
		return nil, unexpected(err)
	}

	e.logTransition(created, callerID, models.TransitionCreate)
	if created.Type == models.PostTypeRequest {
		e.notify(ctx, callerID, created.ID, holdMessage(created))
	}
	e.notifier.BroadcastAll(broadcast.PostsUpdated())
	return created, nil
}

// Edit replaces the caller-editable fields of the caller's open post and
// resizes the hold when the cost of a request changes.
func (e *Engine) Edit(ctx context.Context, callerID, postID string, in PostInput) (*models.Post, error) {
	in.Description = strings.TrimSpace(in.Description)
	if err := e.validate(callerID, in); err != nil {
		return nil, err
	}

	current, err := e.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, fromStore(err)
	}
	if current.PostedBy != callerID {
		return nil, newError(KindPreconditionFailed, "only the author can edit this post")
	}
	if current.Status != models.PostStatusOpen {
		return nil, newError(KindPreconditionFailed, "only open posts can be edited")
	}

	delta := held(in.Type, in.HoursNeeded) - held(current.Type, current.HoursNeeded)
	if delta > 0 {
		kind := models.ReasonHoldTopUp
		if current.Type != models.PostTypeRequest {
			kind = models.ReasonHold
		}
		if err := e.debit(ctx, callerID, delta, ledger.Reason{PostID: postID, Kind: kind}); err != nil {
			return nil, err
		}
	}

	patch := models.PostPatch{
		Type:        &in.Type,
		HoursNeeded: &in.HoursNeeded,
		Description: &in.Description,
		DateTime:    &in.DateTime,
	}
	guard := posts.Guard{Owner: callerID, Forbidden: whileOpen, Type: current.Type, HoursNeeded: current.HoursNeeded}
	updated, err := e.posts.GuardedTransition(ctx, postID, guard, patch)
	if err != nil {
		if delta > 0 {
			e.refund(ctx, callerID, delta, ledger.Reason{PostID: postID, Kind: models.ReasonHoldRelease})
		}
		return nil, fromStore(err)
	}

	if delta < 0 {
		if err := e.credit(ctx, callerID, -delta, ledger.Reason{PostID: postID, Kind: models.ReasonHoldRelease}); err != nil {
			return nil, err
		}
	}

	e.logTransition(updated, callerID, models.TransitionEdit)
	switch {
	case delta > 0:
		e.notify(ctx, callerID, postID, topUpMessage(updated, delta))
	case delta < 0:
		e.notify(ctx, callerID, postID, releaseMessage(updated, -delta))
	}
	e.notifier.BroadcastAll(broadcast.PostsUpdated())
	return updated, nil
}

// Accept makes the caller the counterparty of an open post. Accepting an
// offer holds its cost from the caller's balance.
func (e *Engine) Accept(ctx context.Context, callerID, postID string) (*models.Post, error) {
	if strings.TrimSpace(callerID) == "" {
		return nil, newError(KindInvalidInput, "caller is required")
	}
	current, err := e.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, fromStore(err)
	}
	if current.PostedBy == callerID {
		return nil, newError(KindPreconditionFailed, "you cannot accept your own post")
	}
	if current.Status != models.PostStatusOpen {
		return nil, newError(KindPreconditionFailed, "this post is no longer open")
	}

	paid := 0
	if current.Type == models.PostTypeOffer {
		paid = current.HoursNeeded
		if err := e.debit(ctx, callerID, paid, ledger.Reason{PostID: postID, Kind: models.ReasonAcceptPayment}); err != nil {
			return nil, err
		}
	}

	accepted := models.PostStatusAccepted
	patch := models.PostPatch{Status: &accepted, AcceptedBy: &callerID}
	guard := posts.Guard{Forbidden: whileOpen, Type: current.Type, HoursNeeded: current.HoursNeeded}
	updated, err := e.posts.GuardedTransition(ctx, postID, guard, patch)
	if err != nil {
		if paid > 0 {
			e.refund(ctx, callerID, paid, ledger.Reason{PostID: postID, Kind: models.ReasonAcceptRefund})
		}
		return nil, fromStore(err)
	}

	e.logTransition(updated, callerID, models.TransitionAccept)
	e.notifyParties(ctx, updated, func(memberID string) string {
		return acceptMessage(updated, memberID)
	})
	e.broadcastTransition(updated, models.TransitionAccept)
	return updated, nil
}

// Complete closes an accepted post and pays whoever did the babysitting:
// the author of an offer or the acceptor of a request.
func (e *Engine) Complete(ctx context.Context, callerID, postID string) (*models.Post, error) {
	current, err := e.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, fromStore(err)
	}
	if callerID == "" || (callerID != current.PostedBy && callerID != current.AcceptedBy) {
		return nil, newError(KindPreconditionFailed, "only the people involved can complete this post")
	}
	if current.Status != models.PostStatusAccepted {
		return nil, newError(KindPreconditionFailed, "only accepted posts can be completed")
	}

	completed := models.PostStatusCompleted
	updated, err := e.posts.GuardedTransition(ctx, postID, posts.Guard{Forbidden: whileAccepted}, models.PostPatch{Status: &completed})
	if err != nil {
		return nil, fromStore(err)
	}

	performer := performerOf(updated)
	if err := e.credit(ctx, performer, updated.HoursNeeded, ledger.Reason{PostID: postID, Kind: models.ReasonPayout}); err != nil {
		return nil, err
	}

	e.logTransition(updated, callerID, models.TransitionComplete)
	e.notifyParties(ctx, updated, func(memberID string) string {
		return completeMessage(updated, memberID, performer)
	})
	e.broadcastTransition(updated, models.TransitionComplete)
	return updated, nil
}

// Cancel closes the caller's open or accepted post and releases whatever
// it was holding. The acceptor, if any, stays on the record.
func (e *Engine) Cancel(ctx context.Context, callerID, postID string) (*models.Post, error) {
	current, err := e.posts.GetByID(ctx, postID)
	if err != nil {
		return nil, fromStore(err)
	}
	if current.PostedBy != callerID {
		return nil, newError(KindPreconditionFailed, "only the author can cancel this post")
	}
	if current.Status.Terminal() {
		return nil, newError(KindPreconditionFailed, "this post is already %s", current.Status)
	}

	cancelled := models.PostStatusCancelled
	guard := posts.Guard{Owner: callerID, Forbidden: notTerminal}
	updated, err := e.posts.GuardedTransition(ctx, postID, guard, models.PostPatch{Status: &cancelled})
	if err != nil {
		return nil, fromStore(err)
	}

	// The written record, not the earlier read, says whether an acceptor
	// paid before the flip.
	refunded := ""
	switch {
	case updated.Type == models.PostTypeRequest:
		refunded = updated.PostedBy
	case updated.AcceptedBy != "":
		refunded = updated.AcceptedBy
	}
	if refunded != "" {
		if err := e.credit(ctx, refunded, updated.HoursNeeded, ledger.Reason{PostID: postID, Kind: models.ReasonCancelRefund}); err != nil {
			return nil, err
		}
	}

	e.logTransition(updated, callerID, models.TransitionCancel)
	e.notifyParties(ctx, updated, func(memberID string) string {
		return cancelMessage(updated, memberID, refunded)
	})
	e.broadcastTransition(updated, models.TransitionCancel)
	return updated, nil
}

func (e *Engine) validate(callerID string, in PostInput) error {
	switch {
	case strings.TrimSpace(callerID) == "":
		return newError(KindInvalidInput, "caller is required")
	case !in.Type.Valid():
		return newError(KindInvalidInput, "type must be offer or request")
	case in.HoursNeeded < 1:
		return newError(KindInvalidInput, "hours needed must be at least 1")
	case in.Description == "":
		return newError(KindInvalidInput, "description is required")
	case !in.DateTime.After(e.now()):
		return newError(KindInvalidDate, "date and time must be in the future")
	}
	return nil
}

// held is the amount a post of this type and size keeps from its author.
func held(t models.PostType, hours int) int {
	if t == models.PostTypeRequest {
		return hours
	}
	return 0
}

func performerOf(post *models.Post) string {
	if post.Type == models.PostTypeOffer {
		return post.PostedBy
	}
	return post.AcceptedBy
}

// debit checks and then takes amount from memberID. The ledger re-validates
// at commit time, so a passed check can still fail with InsufficientBalance.
func (e *Engine) debit(ctx context.Context, memberID string, amount int, reason ledger.Reason) error {
	ok, err := e.ledger.CheckSufficient(ctx, memberID, amount)
	if err != nil {
		return fromLedger(err)
	}
	if !ok {
		return newError(KindInsufficientPoints, "you need %s for this", pointsWord(amount))
	}
	if _, err := e.ledger.Adjust(ctx, memberID, -amount, reason); err != nil {
		return fromLedger(err)
	}
	return nil
}

// refund compensates a debit whose post write lost. The caller still sees
// the write error, so a failed refund is only logged.
func (e *Engine) refund(ctx context.Context, memberID string, amount int, reason ledger.Reason) {
	if _, err := e.ledger.Adjust(ctx, memberID, amount, reason); err != nil {
		e.unreconciled("refund after lost post write failed", memberID, amount, reason.PostID, err)
	}
}

// credit pays out after a successful post write.
func (e *Engine) credit(ctx context.Context, memberID string, amount int, reason ledger.Reason) error {
	if _, err := e.ledger.Adjust(ctx, memberID, amount, reason); err != nil {
		e.unreconciled("credit after post write failed", memberID, amount, reason.PostID, err)
		return unexpected(err)
	}
	return nil
}

// unreconciled records a ledger/post mismatch that needs a manual fix.
// delta is what memberID is still owed.
func (e *Engine) unreconciled(msg, memberID string, delta int, postID string, err error) {
	e.log.Error(msg,
		zap.String("member_id", memberID),
		zap.Int("delta", delta),
		zap.String("post_id", postID),
		zap.Error(err),
	)
}

func (e *Engine) notify(ctx context.Context, memberID, postID, message string) {
	if _, err := e.notifier.Notify(ctx, memberID, postID, message); err != nil {
		e.log.Error("notification not persisted",
			zap.String("member_id", memberID),
			zap.String("post_id", postID),
			zap.Error(err),
		)
	}
}

func (e *Engine) notifyParties(ctx context.Context, post *models.Post, message func(memberID string) string) {
	recipients := []string{post.PostedBy, post.AcceptedBy}
	if _, err := e.notifier.NotifyMany(ctx, recipients, post.ID, message); err != nil {
		e.log.Error("notifications not persisted",
			zap.String("post_id", post.ID),
			zap.Error(err),
		)
	}
}

func (e *Engine) broadcastTransition(post *models.Post, transition models.TransitionType) {
	e.notifier.BroadcastTo([]string{post.PostedBy, post.AcceptedBy}, broadcast.PostStatusUpdate(*post, transition))
	e.notifier.BroadcastAll(broadcast.PostsUpdated())
}

func (e *Engine) logTransition(post *models.Post, callerID string, transition models.TransitionType) {
	e.log.Info("post transition",
		zap.String("post_id", post.ID),
		zap.String("member_id", callerID),
		zap.String("transition", string(transition)),
		zap.String("status", string(post.Status)),
	)
}
