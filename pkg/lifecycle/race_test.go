package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"sitter-points-backend/pkg/ledger"
	"sitter-points-backend/pkg/models"
	"sitter-points-backend/pkg/posts"
)

// race runs fn n times concurrently and returns the errors.
func race(n int, fn func(i int) error) []error {
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}(i)
	}
	close(start)
	wg.Wait()
	return errs
}

func count(errs []error) (ok int, kinds map[Kind]int) {
	kinds = make(map[Kind]int)
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		kinds[KindOf(err)]++
	}
	return ok, kinds
}

func TestConcurrentAcceptsDebitExactlyOneAcceptor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	poster := h.member(t, 0)
	post, err := h.engine.Create(ctx, poster, input(models.PostTypeOffer, 3))
	require.NoError(t, err)

	acceptors := make([]string, 8)
	for i := range acceptors {
		acceptors[i] = h.member(t, 5)
	}

	errs := race(len(acceptors), func(i int) error {
		_, err := h.engine.Accept(ctx, acceptors[i], post.ID)
		return err
	})
	ok, kinds := count(errs)
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(acceptors)-1, kinds[KindPreconditionFailed])

	got, err := h.store.GetByID(ctx, post.ID)
	require.NoError(t, err)
	total := 0
	for _, id := range acceptors {
		b := h.balance(t, id)
		total += b
		if id == got.AcceptedBy {
			assert.Equal(t, 2, b)
		} else {
			assert.Equal(t, 5, b, "losers are refunded or never charged")
		}
	}
	assert.Equal(t, 5*len(acceptors)-3, total)
}

func TestConcurrentCompletesCreditOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.member(t, 10)
	b := h.member(t, 0)

	post, err := h.engine.Create(ctx, a, input(models.PostTypeRequest, 4))
	require.NoError(t, err)
	_, err = h.engine.Accept(ctx, b, post.ID)
	require.NoError(t, err)

	errs := race(6, func(i int) error {
		caller := a
		if i%2 == 1 {
			caller = b
		}
		_, err := h.engine.Complete(ctx, caller, post.ID)
		return err
	})
	ok, kinds := count(errs)
	assert.Equal(t, 1, ok)
	assert.Equal(t, 5, kinds[KindPreconditionFailed])
	assert.Equal(t, 4, h.balance(t, b))
	assert.Equal(t, 6, h.balance(t, a))
}

func TestConcurrentCancelAndCompleteNeverBoth(t *testing.T) {
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		ctx := context.Background()
		a := h.member(t, 10)
		b := h.member(t, 0)

		post, err := h.engine.Create(ctx, a, input(models.PostTypeRequest, 4))
		require.NoError(t, err)
		_, err = h.engine.Accept(ctx, b, post.ID)
		require.NoError(t, err)

		errs := race(4, func(i int) error {
			if i%2 == 0 {
				_, err := h.engine.Cancel(ctx, a, post.ID)
				return err
			}
			_, err := h.engine.Complete(ctx, b, post.ID)
			return err
		})
		ok, _ := count(errs)
		require.Equal(t, 1, ok)

		got, err := h.store.GetByID(ctx, post.ID)
		require.NoError(t, err)
		switch got.Status {
		case models.PostStatusCompleted:
			assert.Equal(t, 6, h.balance(t, a))
			assert.Equal(t, 4, h.balance(t, b))
		case models.PostStatusCancelled:
			assert.Equal(t, 10, h.balance(t, a))
			assert.Equal(t, 0, h.balance(t, b))
		default:
			t.Fatalf("unexpected status %s", got.Status)
		}
	}
}

// postDeltas sums ledger movements per post across members.
func postDeltas(t *testing.T, h *harness, members []string) map[string]int {
	t.Helper()
	sums := make(map[string]int)
	for _, id := range members {
		entries, err := h.ledger.History(context.Background(), id)
		require.NoError(t, err)
		for _, entry := range entries {
			if entry.PostID != "" {
				sums[entry.PostID] += entry.Delta
			}
		}
	}
	return sums
}

func TestRandomInterleavingsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := newHarness(t)
	ctx := context.Background()

	members := make([]string, 4)
	for i := range members {
		members[i] = h.member(t, 12)
	}
	var ids []string
	pick := func(list []string) string { return list[rng.Intn(len(list))] }

	for step := 0; step < 400; step++ {
		caller := pick(members)
		switch op := rng.Intn(5); {
		case op == 0 || len(ids) == 0:
			kind := models.PostTypeOffer
			if rng.Intn(2) == 0 {
				kind = models.PostTypeRequest
			}
			post, err := h.engine.Create(ctx, caller, input(kind, 1+rng.Intn(5)))
			if err == nil {
				ids = append(ids, post.ID)
			}
		case op == 1:
			kind := models.PostTypeOffer
			if rng.Intn(2) == 0 {
				kind = models.PostTypeRequest
			}
			_, _ = h.engine.Edit(ctx, caller, pick(ids), input(kind, 1+rng.Intn(5)))
		case op == 2:
			_, _ = h.engine.Accept(ctx, caller, pick(ids))
		case op == 3:
			_, _ = h.engine.Complete(ctx, caller, pick(ids))
		default:
			_, _ = h.engine.Cancel(ctx, caller, pick(ids))
		}

		for _, id := range members {
			require.GreaterOrEqual(t, h.balance(t, id), 0, "step %d", step)
		}
	}

	sums := postDeltas(t, h, members)
	for _, id := range ids {
		post, err := h.store.GetByID(ctx, id)
		require.NoError(t, err)

		want := 0
		switch {
		case post.Status.Terminal():
			want = 0
		case post.Type == models.PostTypeRequest:
			want = -post.HoursNeeded
		case post.Status == models.PostStatusAccepted:
			want = -post.HoursNeeded
		}
		assert.Equal(t, want, sums[id], "post %s (%s, %s)", id, post.Type, post.Status)
	}
}

func TestConcurrentInterleavingsKeepInvariants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	members := make([]string, 5)
	for i := range members {
		members[i] = h.member(t, 8)
	}
	var ids []string
	for i, m := range members {
		kind := models.PostTypeOffer
		if i%2 == 0 {
			kind = models.PostTypeRequest
		}
		post, err := h.engine.Create(ctx, m, input(kind, 2+i%3))
		require.NoError(t, err)
		ids = append(ids, post.ID)
	}

	race(200, func(i int) error {
		rng := rand.New(rand.NewSource(int64(i)))
		caller := members[rng.Intn(len(members))]
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(4) {
		case 0:
			_, err := h.engine.Accept(ctx, caller, id)
			return err
		case 1:
			_, err := h.engine.Complete(ctx, caller, id)
			return err
		case 2:
			_, err := h.engine.Cancel(ctx, caller, id)
			return err
		default:
			_, err := h.engine.Edit(ctx, caller, id, input(models.PostTypeRequest, 1+rng.Intn(4)))
			return err
		}
	})

	total := 0
	for _, id := range members {
		b := h.balance(t, id)
		assert.GreaterOrEqual(t, b, 0)
		total += b
	}

	sums := postDeltas(t, h, members)
	held := 0
	for _, id := range ids {
		post, err := h.store.GetByID(ctx, id)
		require.NoError(t, err)
		if post.Status.Terminal() {
			assert.Zero(t, sums[id], "closed post %s must net to zero", id)
			continue
		}
		held -= sums[id]
	}
	assert.Equal(t, 8*len(members), total+held, "points are neither created nor lost")
}

type failingPosts struct {
	PostStore
	createErr error
	guardErr  error
}

func (f failingPosts) Create(ctx context.Context, post models.Post) (*models.Post, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.PostStore.Create(ctx, post)
}

func (f failingPosts) GuardedTransition(ctx context.Context, id string, guard posts.Guard, patch models.PostPatch) (*models.Post, error) {
	if f.guardErr != nil {
		return nil, f.guardErr
	}
	return f.PostStore.GuardedTransition(ctx, id, guard, patch)
}

func TestInsertFailureAfterHoldIsLoggedNotUnwound(t *testing.T) {
	h := newHarness(t)
	core, logs := observer.New(zapcore.ErrorLevel)
	broken := failingPosts{PostStore: h.store, createErr: errors.New("connection reset")}
	engine := New(h.ledger, broken, h.dispatcher, zap.New(core), WithClock(h.engine.now))
	a := h.member(t, 10)

	_, err := engine.Create(context.Background(), a, input(models.PostTypeRequest, 3))
	assert.True(t, IsKind(err, KindUnexpected))
	assert.NotContains(t, err.Error(), "connection reset", "internal causes stay internal")
	assert.Equal(t, 7, h.balance(t, a))

	entries := logs.FilterMessage("post insert failed after hold").All()
	require.Len(t, entries, 1)
	assert.Equal(t, a, entries[0].ContextMap()["member_id"])
	assert.EqualValues(t, 3, entries[0].ContextMap()["delta"])
}

func TestLostWriteRefundsTheDebit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.member(t, 0)
	b := h.member(t, 5)

	post, err := h.engine.Create(ctx, a, input(models.PostTypeOffer, 4))
	require.NoError(t, err)

	lost := failingPosts{PostStore: h.store, guardErr: posts.ErrPreconditionFailed}
	engine := New(h.ledger, lost, h.dispatcher, nil, WithClock(h.engine.now))

	_, err = engine.Accept(ctx, b, post.ID)
	assert.True(t, IsKind(err, KindPreconditionFailed))
	assert.Equal(t, 5, h.balance(t, b))

	history, err := h.ledger.History(ctx, b)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.ReasonAcceptRefund, history[0].Reason)
	assert.Equal(t, models.ReasonAcceptPayment, history[1].Reason)
	assert.Empty(t, h.notifications(t, b))
}

// racingLedger passes every sufficiency check and then loses the debit, as
// when a concurrent transition spent the balance in between.
type racingLedger struct {
	Ledger
}

func (racingLedger) CheckSufficient(context.Context, string, int) (bool, error) { return true, nil }

func (r racingLedger) Adjust(ctx context.Context, memberID string, delta int, reason ledger.Reason) (int, error) {
	if delta < 0 {
		return 0, ledger.ErrInsufficientBalance
	}
	return r.Ledger.Adjust(ctx, memberID, delta, reason)
}

func TestInsufficientBalanceAtCommitAbortsTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.member(t, 0)
	b := h.member(t, 0)

	offer, err := h.engine.Create(ctx, a, input(models.PostTypeOffer, 2))
	require.NoError(t, err)

	engine := New(racingLedger{Ledger: h.ledger}, h.store, h.dispatcher, nil, WithClock(h.engine.now))

	_, err = engine.Create(ctx, b, input(models.PostTypeRequest, 2))
	assert.True(t, IsKind(err, KindInsufficientBalance))

	_, err = engine.Accept(ctx, b, offer.ID)
	assert.True(t, IsKind(err, KindInsufficientBalance))

	got, err := h.store.GetByID(ctx, offer.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusOpen, got.Status)
	assert.Empty(t, got.AcceptedBy)
	assert.Empty(t, h.notifications(t, b))

	owned, err := h.store.ListOwnedBy(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

type failingNotifier struct {
	Notifier
}

func (failingNotifier) Notify(context.Context, string, string, string) (*models.Notification, error) {
	return nil, errors.New("notifications table locked")
}

func (failingNotifier) NotifyMany(context.Context, []string, string, func(string) string) ([]models.Notification, error) {
	return nil, errors.New("notifications table locked")
}

func TestNotificationFailureAfterWriteIsNotSurfaced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	core, logs := observer.New(zapcore.ErrorLevel)
	engine := New(h.ledger, h.store, failingNotifier{Notifier: h.dispatcher}, zap.New(core), WithClock(h.engine.now))
	a := h.member(t, 10)
	b := h.member(t, 0)

	post, err := engine.Create(ctx, a, input(models.PostTypeRequest, 2))
	require.NoError(t, err)
	post, err = engine.Accept(ctx, b, post.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusAccepted, post.Status)

	assert.Equal(t, 1, logs.FilterMessage("notification not persisted").Len())
	assert.Equal(t, 1, logs.FilterMessage("notifications not persisted").Len())
}

func TestErrorKinds(t *testing.T) {
	err := fromStore(posts.ErrNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.ErrorIs(t, err, posts.ErrNotFound)

	assert.Equal(t, KindUnexpected, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindUnexpected))
	assert.Equal(t, KindInsufficientBalance, KindOf(fromLedger(ledger.ErrInsufficientBalance)))
	assert.Equal(t, KindNotFound, KindOf(fromLedger(ledger.ErrMemberNotFound)))
}
