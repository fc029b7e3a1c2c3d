package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/locum-marketplace/internal/actor"
	"github.com/hackgods/locum-marketplace/internal/booking"
	"github.com/hackgods/locum-marketplace/internal/config"
	redisclient "github.com/hackgods/locum-marketplace/internal/redis"
)

var errNoCard = errors.New("no card on file")

type fakeGate struct {
	mu    sync.Mutex
	cards map[uuid.UUID]bool
	calls int
}

func newFakeGate(withCards ...uuid.UUID) *fakeGate {
	g := &fakeGate{cards: map[uuid.UUID]bool{}}
	for _, id := range withCards {
		g.cards[id] = true
	}
	return g
}

func (g *fakeGate) addCard(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cards[id] = true
}

func (g *fakeGate) HasPaymentMethod(_ context.Context, id uuid.UUID) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.cards[id], nil
}

func (g *fakeGate) Require(ctx context.Context, id uuid.UUID) error {
	ok, _ := g.HasPaymentMethod(ctx, id)
	if !ok {
		return errNoCard
	}
	return nil
}

// clock is a settable time source shared with the service under test.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo     *memRepo
	gate     *fakeGate
	clock    *clock
	svc      *Service
	practice actor.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	practice := actor.Context{ID: uuid.New(), Kind: actor.KindPractice}
	f := &fixture{
		repo:     newMemRepo(),
		gate:     newFakeGate(practice.ID),
		clock:    &clock{now: time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)},
		practice: practice,
	}
	cfg := config.Config{ConfirmationTTL: 24 * time.Hour, Timezone: "UTC", DefaultHourlyRate: 20}
	f.svc = NewService(f.repo, redisclient.NoopLocker{}, f.gate, nil, nil, cfg, nil)
	f.svc.now = f.clock.Now
	return f
}

func (f *fixture) locum(t *testing.T, name string, rating *float64, withCard bool) actor.Context {
	t.Helper()
	id := uuid.New()
	f.repo.addLocum(LocumProfile{ID: id, Name: name, Role: RoleNurse, AverageRating: rating})
	if withCard {
		f.gate.addCard(id)
	}
	return actor.Context{ID: id, Kind: actor.KindLocum, Role: string(RoleNurse)}
}

func (f *fixture) createRequest(t *testing.T) *AppointmentRequest {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), f.practice, RequestInput{
		RequestDate:  "2025-06-01",
		StartTime:    "10:00",
		EndTime:      "11:00",
		Location:     "valid address",
		RequiredRole: "Nurse",
	})
	require.NoError(t, err)
	return req
}

func TestScenarioFullSelectionToBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.createRequest(t)
	assert.Equal(t, RequestOpen, req.Status)
	assert.Equal(t, 20.0, req.HourlyRate)

	x := f.locum(t, "x", ptr(4.9), true)
	y := f.locum(t, "y", ptr(3.1), true)
	_, err := f.svc.Accept(ctx, y, req.ID)
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, x, req.ID)
	require.NoError(t, err)

	view, err := f.svc.Applicants(ctx, f.practice, req.ID, 0)
	require.NoError(t, err)
	require.Len(t, view.Applicants, 2)
	assert.Equal(t, x.ID, view.Applicants[0].Profile.ID, "higher rating first")
	assert.Equal(t, StateHasApplicants, view.State)
	assert.True(t, view.CanSelectApplicant)
	assert.False(t, view.AutoSelectAvailable)

	conf, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, x.ID)
	require.NoError(t, err)
	assert.Equal(t, ConfirmationPracticeConfirmed, conf.Status)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), conf.ExpiresAt)
	assert.Regexp(t, `^LC-20250520-[0-9A-F]{6}$`, conf.ConfirmationNumber)

	pending, err := f.svc.PendingConfirmations(ctx, x)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 24, pending[0].TimeLeft.Hours)
	assert.Equal(t, 86400, pending[0].TimeLeft.TotalSeconds)

	f.clock.Advance(2 * time.Hour)
	res, err := f.svc.ConfirmOrReject(ctx, x, conf.ID, ActionConfirm, "")
	require.NoError(t, err)
	require.NotNil(t, res.Booking)
	assert.Equal(t, ConfirmationLocumConfirmed, res.Confirmation.Status)
	assert.Equal(t, booking.StatusConfirmed, res.Booking.Status)
	assert.Equal(t, x.ID, res.Booking.LocumID)
	assert.Equal(t, req.StartsAt, res.Booking.StartsAt)
	assert.Equal(t, 20.0, res.Booking.HourlyRate)
	require.Len(t, f.repo.bookings, 1)

	stored, err := f.repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestBooked, stored.Status)

	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, y.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.ConfirmOrReject(ctx, x, conf.ID, ActionConfirm, "")
	assert.ErrorIs(t, err, ErrInvalidState, "confirming twice does not create a second booking")
	assert.Len(t, f.repo.bookings, 1)

	assert.Contains(t, f.repo.eventTypes(), EventSelectionConfirmed)
}

func TestSingleActiveConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	a := f.locum(t, "a", ptr(4), true)
	b := f.locum(t, "b", ptr(4), true)
	for _, l := range []actor.Context{a, b} {
		_, err := f.svc.Accept(ctx, l, req.ID)
		require.NoError(t, err)
	}

	first, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, b.ID)
	assert.ErrorIs(t, err, ErrAlreadySelected)
	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	assert.ErrorIs(t, err, ErrAlreadySelected)

	_, err = f.svc.ConfirmOrReject(ctx, a, first.ID, ActionReject, "  ")
	assert.ErrorIs(t, err, ErrRejectionReasonRequired)

	res, err := f.svc.ConfirmOrReject(ctx, a, first.ID, ActionReject, "not available")
	require.NoError(t, err)
	assert.Equal(t, ConfirmationLocumRejected, res.Confirmation.Status)
	assert.Nil(t, res.Booking)

	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "a locum who declined is no longer selectable")

	second, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, b.ID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestLazyExpiryUnblocksReselection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	a := f.locum(t, "a", ptr(5), true)
	b := f.locum(t, "b", ptr(4), true)
	for _, l := range []actor.Context{a, b} {
		_, err := f.svc.Accept(ctx, l, req.ID)
		require.NoError(t, err)
	}

	stale, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)

	next, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, next.LocumID)

	old, err := f.repo.GetConfirmation(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ConfirmationExpired, old.Status)

	_, err = f.svc.ConfirmOrReject(ctx, a, stale.ID, ActionConfirm, "")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Empty(t, f.repo.bookings)
}

func TestConfirmAfterDeadlineExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	a := f.locum(t, "a", nil, true)
	_, err := f.svc.Accept(ctx, a, req.ID)
	require.NoError(t, err)

	conf, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	_, err = f.svc.ConfirmOrReject(ctx, a, conf.ID, ActionReject, "")
	assert.ErrorIs(t, err, ErrExpired, "expiry wins over the missing reason")

	stored, err := f.repo.GetConfirmation(ctx, conf.ID)
	require.NoError(t, err)
	assert.Equal(t, ConfirmationExpired, stored.Status)

	resp, err := f.repo.GetResponse(ctx, req.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, ResponseWithdrawn, resp.Status)

	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "no applicants remain")
}

func TestExpireStaleSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	a := f.locum(t, "a", nil, true)
	_, err := f.svc.Accept(ctx, a, req.ID)
	require.NoError(t, err)
	conf, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(24*time.Hour + time.Second)
	n, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "second sweep finds nothing")

	_, err = f.svc.ConfirmOrReject(ctx, a, conf.ID, ActionConfirm, "")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestAcceptRequiresPaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	y := f.locum(t, "y", nil, false)

	_, err := f.svc.Accept(ctx, y, req.ID)
	assert.ErrorIs(t, err, errNoCard)

	_, err = f.svc.Accept(ctx, y, uuid.New())
	assert.ErrorIs(t, err, errNoCard, "gate is checked regardless of request state")

	f.gate.addCard(y.ID)
	resp, err := f.svc.Accept(ctx, y, req.ID)
	require.NoError(t, err)
	assert.Equal(t, ResponseApplied, resp.Status)

	_, err = f.svc.Accept(ctx, y, req.ID)
	assert.ErrorIs(t, err, ErrAlreadyResponded)
}

func TestSelectRequiresPracticePaymentMethod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	a := f.locum(t, "a", nil, true)
	_, err := f.svc.Accept(ctx, a, req.ID)
	require.NoError(t, err)

	f.gate.mu.Lock()
	delete(f.gate.cards, f.practice.ID)
	f.gate.mu.Unlock()

	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	assert.ErrorIs(t, err, errNoCard)

	view, err := f.svc.Applicants(ctx, f.practice, req.ID, 0)
	require.NoError(t, err)
	assert.False(t, view.CanSelectApplicant)
	assert.False(t, view.AutoSelectAvailable)
}

func TestIgnoreHidesRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	other := f.createRequest(t)
	l := f.locum(t, "l", nil, false)

	visible, err := f.svc.AvailableRequests(ctx, l, 0)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	_, err = f.svc.Ignore(ctx, l, req.ID)
	require.NoError(t, err, "ignoring does not need a card")

	visible, err = f.svc.AvailableRequests(ctx, l, 0)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, other.ID, visible[0].Request.ID)

	f.gate.addCard(l.ID)
	_, err = f.svc.Accept(ctx, l, req.ID)
	assert.ErrorIs(t, err, ErrAlreadyResponded)
}

func TestAutoSelectOfferedForSingleApplicant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	a := f.locum(t, "a", ptr(4), true)
	_, err := f.svc.Accept(ctx, a, req.ID)
	require.NoError(t, err)

	view, err := f.svc.Applicants(ctx, f.practice, req.ID, 4.5)
	require.NoError(t, err)
	assert.True(t, view.AutoSelectAvailable)
	assert.Empty(t, view.Applicants, "rating filter only narrows the display")
}

func TestOwnershipIsEnforced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	a := f.locum(t, "a", nil, true)
	_, err := f.svc.Accept(ctx, a, req.ID)
	require.NoError(t, err)

	stranger := actor.Context{ID: uuid.New(), Kind: actor.KindPractice}
	f.gate.addCard(stranger.ID)
	_, err = f.svc.SelectApplicant(ctx, stranger, req.ID, a.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.Applicants(ctx, stranger, req.ID, 0)
	assert.ErrorIs(t, err, ErrForbidden)

	conf, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	other := f.locum(t, "other", nil, true)
	_, err = f.svc.ConfirmOrReject(ctx, other, conf.ID, ActionConfirm, "")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CreateRequest(ctx, a, RequestInput{})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestCreateRequestValidationAndBranches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateRequest(ctx, f.practice, RequestInput{RequestDate: "2025-05-20"})
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs, FieldRequestDate)
	assert.Contains(t, verrs, FieldRole)

	corporate := actor.Context{ID: uuid.New(), Kind: actor.KindCorporate}
	in := RequestInput{RequestDate: "2025-06-01", StartTime: "10:00", EndTime: "11:00", Location: "valid address", RequiredRole: "Nurse"}
	_, err = f.svc.CreateRequest(ctx, corporate, in)
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs, FieldBranch)

	branchID := uuid.New()
	f.repo.branches[branchID] = corporate.ID
	in.BranchID = &branchID
	req, err := f.svc.CreateRequest(ctx, corporate, in)
	require.NoError(t, err)
	assert.Equal(t, corporate.ID, req.PracticeID)
	assert.Equal(t, branchID, req.OwnerID())

	foreign := uuid.New()
	f.repo.branches[foreign] = uuid.New()
	in.BranchID = &foreign
	_, err = f.svc.CreateRequest(ctx, corporate, in)
	assert.ErrorIs(t, err, ErrForbidden)

	branch := actor.Context{ID: branchID, Kind: actor.KindBranch, PracticeID: corporate.ID}
	in.BranchID = nil
	req, err = f.svc.CreateRequest(ctx, branch, in)
	require.NoError(t, err)
	assert.Equal(t, corporate.ID, req.PracticeID)
	require.NotNil(t, req.BranchID)
	assert.Equal(t, branchID, *req.BranchID)
}

func TestCancelRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	a := f.locum(t, "a", nil, true)
	_, err := f.svc.Accept(ctx, a, req.ID)
	require.NoError(t, err)
	conf, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.CancelRequest(ctx, f.practice, req.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestCancelled, cancelled.Status)

	stored, err := f.repo.GetConfirmation(ctx, conf.ID)
	require.NoError(t, err)
	assert.Equal(t, ConfirmationExpired, stored.Status)

	_, err = f.svc.CancelRequest(ctx, f.practice, req.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.ConfirmOrReject(ctx, a, conf.ID, ActionConfirm, "")
	assert.ErrorIs(t, err, ErrExpired)
}

func TestPracticeRequestsPaging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.createRequest(t)
		f.clock.Advance(time.Minute)
	}

	page, err := f.svc.PracticeRequests(ctx, f.practice, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Requests, 1)
	assert.Equal(t, Pagination{Page: 2, Limit: 2, Total: 3, TotalPages: 2}, page.Pagination)
	assert.Equal(t, StateOpen, page.Requests[0].State)

	page, err = f.svc.PracticeRequests(ctx, f.practice, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 100, page.Pagination.Limit)
}

func TestApplyHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)
	a := f.locum(t, "a", nil, true)
	_, err := f.svc.Accept(ctx, a, req.ID)
	require.NoError(t, err)
	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	history, err := f.svc.ApplyHistory(ctx, a)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].Confirmation)
	assert.Equal(t, ConfirmationPracticeConfirmed, history[0].Confirmation.Status)
}

func TestDeriveState(t *testing.T) {
	now := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	open := AppointmentRequest{Status: RequestOpen}
	live := &SelectionConfirmation{Status: ConfirmationPracticeConfirmed, ExpiresAt: now.Add(time.Hour)}
	stale := &SelectionConfirmation{Status: ConfirmationPracticeConfirmed, ExpiresAt: now}

	assert.Equal(t, StateOpen, DeriveState(open, nil, 0, now))
	assert.Equal(t, StateHasApplicants, DeriveState(open, nil, 2, now))
	assert.Equal(t, StateSelectionPending, DeriveState(open, live, 2, now))
	assert.Equal(t, StateHasApplicants, DeriveState(open, stale, 2, now))
	assert.Equal(t, StateLocumConfirmed, DeriveState(AppointmentRequest{Status: RequestBooked}, nil, 0, now))
	assert.Equal(t, StateCancelled, DeriveState(AppointmentRequest{Status: RequestCancelled}, live, 1, now))
}

func TestTimeLeftUntil(t *testing.T) {
	now := time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, TimeLeft{Hours: 1, Minutes: 2, Seconds: 3, TotalSeconds: 3723}, TimeLeftUntil(now.Add(3723*time.Second), now))
	assert.Equal(t, TimeLeft{}, TimeLeftUntil(now.Add(-time.Minute), now))
}

func TestRespondRequiresOpenRequest(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture, req *AppointmentRequest)
		wantErr error
	}{
		{
			name:  "open",
			setup: func(*testing.T, *fixture, *AppointmentRequest) {},
		},
		{
			name: "has applicants",
			setup: func(t *testing.T, f *fixture, req *AppointmentRequest) {
				_, err := f.svc.Accept(ctx, f.locum(t, "a", nil, true), req.ID)
				require.NoError(t, err)
			},
		},
		{
			name: "selection pending",
			setup: func(t *testing.T, f *fixture, req *AppointmentRequest) {
				a := f.locum(t, "a", nil, true)
				_, err := f.svc.Accept(ctx, a, req.ID)
				require.NoError(t, err)
				_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
				require.NoError(t, err)
			},
			wantErr: ErrInvalidState,
		},
		{
			name: "locum confirmed",
			setup: func(t *testing.T, f *fixture, req *AppointmentRequest) {
				a := f.locum(t, "a", nil, true)
				_, err := f.svc.Accept(ctx, a, req.ID)
				require.NoError(t, err)
				conf, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
				require.NoError(t, err)
				_, err = f.svc.ConfirmOrReject(ctx, a, conf.ID, ActionConfirm, "")
				require.NoError(t, err)
			},
			wantErr: ErrInvalidState,
		},
		{
			name: "cancelled",
			setup: func(t *testing.T, f *fixture, req *AppointmentRequest) {
				_, err := f.svc.CancelRequest(ctx, f.practice, req.ID)
				require.NoError(t, err)
			},
			wantErr: ErrInvalidState,
		},
		{
			name: "stale selection counts as has applicants",
			setup: func(t *testing.T, f *fixture, req *AppointmentRequest) {
				a := f.locum(t, "a", nil, true)
				_, err := f.svc.Accept(ctx, a, req.ID)
				require.NoError(t, err)
				_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
				require.NoError(t, err)
				f.clock.Advance(25 * time.Hour)
			},
		},
		{
			name: "already started",
			setup: func(t *testing.T, f *fixture, req *AppointmentRequest) {
				f.clock.Advance(req.StartsAt.Sub(f.clock.Now()))
			},
			wantErr: ErrInvalidState,
		},
	}

	for _, tt := range tests {
		for _, op := range []string{"accept", "ignore"} {
			t.Run(tt.name+"/"+op, func(t *testing.T) {
				f := newFixture(t)
				req := f.createRequest(t)
				tt.setup(t, f, req)
				before := len(f.repo.responses)

				l := f.locum(t, "late", nil, true)
				var err error
				if op == "accept" {
					_, err = f.svc.Accept(ctx, l, req.ID)
				} else {
					_, err = f.svc.Ignore(ctx, l, req.ID)
				}

				if tt.wantErr == nil {
					require.NoError(t, err)
					assert.Len(t, f.repo.responses, before+1)
					return
				}
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Len(t, f.repo.responses, before, "no response row is written")
			})
		}
	}
}

func TestApplicantsExpiresStaleSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	a := f.locum(t, "a", ptr(5), true)
	b := f.locum(t, "b", ptr(3), true)
	for _, l := range []actor.Context{a, b} {
		_, err := f.svc.Accept(ctx, l, req.ID)
		require.NoError(t, err)
	}
	stale, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)

	view, err := f.svc.Applicants(ctx, f.practice, req.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, StateHasApplicants, view.State)
	require.Len(t, view.Applicants, 1, "the locum who let the selection lapse is not offered again")
	assert.Equal(t, b.ID, view.Applicants[0].Profile.ID)
	assert.True(t, view.CanSelectApplicant)
	assert.True(t, view.AutoSelectAvailable)

	old, err := f.repo.GetConfirmation(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ConfirmationExpired, old.Status)

	next, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, view.Applicants[0].Profile.ID)
	require.NoError(t, err, "the offered applicant can be selected")
	assert.Equal(t, b.ID, next.LocumID)
}

func TestApplicantsAfterOnlyApplicantLapsed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	a := f.locum(t, "a", nil, true)
	_, err := f.svc.Accept(ctx, a, req.ID)
	require.NoError(t, err)
	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)

	view, err := f.svc.Applicants(ctx, f.practice, req.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, view.State)
	assert.Empty(t, view.Applicants)
	assert.False(t, view.CanSelectApplicant)
	assert.False(t, view.AutoSelectAvailable)

	_, err = f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPracticeRequestsExpiresStaleSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.createRequest(t)

	a := f.locum(t, "a", nil, true)
	b := f.locum(t, "b", nil, true)
	for _, l := range []actor.Context{a, b} {
		_, err := f.svc.Accept(ctx, l, req.ID)
		require.NoError(t, err)
	}
	stale, err := f.svc.SelectApplicant(ctx, f.practice, req.ID, a.ID)
	require.NoError(t, err)

	page, err := f.svc.PracticeRequests(ctx, f.practice, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Requests, 1)
	assert.Equal(t, StateSelectionPending, page.Requests[0].State)
	assert.Equal(t, 2, page.Requests[0].ApplicantCount)

	f.clock.Advance(25 * time.Hour)

	page, err = f.svc.PracticeRequests(ctx, f.practice, 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Requests, 1)
	assert.Equal(t, StateHasApplicants, page.Requests[0].State)
	assert.Equal(t, 1, page.Requests[0].ApplicantCount)
	assert.Nil(t, page.Requests[0].ActiveExpiresAt)

	old, err := f.repo.GetConfirmation(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, ConfirmationExpired, old.Status)
}
