package booking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/locum-marketplace/internal/actor"
)

type fakeRepo struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*Booking
	penalties []CancellationPenalty
}

func newFakeRepo(bs ...Booking) *fakeRepo {
	r := &fakeRepo{bookings: make(map[uuid.UUID]*Booking)}
	for i := range bs {
		b := bs[i]
		r.bookings[b.ID] = &b
	}
	return r
}

func (r *fakeRepo) GetBooking(_ context.Context, id uuid.UUID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) ListForLocum(_ context.Context, locumID uuid.UUID) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.LocumID == locumID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListForOrganisation(_ context.Context, orgID uuid.UUID) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.bookings {
		if b.PracticeID == orgID || (b.BranchID != nil && *b.BranchID == orgID) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeRepo) CancelWithPenalty(_ context.Context, id uuid.UUID, cancelBy, reason string, at time.Time, p CancellationPenalty) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok || b.Status != StatusConfirmed || !b.StartsAt.After(at) {
		return nil, ErrNotCancellable
	}
	b.Status = StatusCancelled
	b.CancelBy = &cancelBy
	b.CancelTime = &at
	b.CancellationReason = &reason
	r.penalties = append(r.penalties, p)
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) ListPenaltiesCharged(_ context.Context, partyID uuid.UUID) ([]CancellationPenalty, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CancellationPenalty
	for _, p := range r.penalties {
		if p.ChargedPartyID == partyID {
			out = append(out, p)
		}
	}
	return out, nil
}

func newTestService(repo Repository, now time.Time) *Service {
	s := NewService(repo, nil, nil, nil)
	s.now = func() time.Time { return now }
	return s
}

func confirmedBooking(startsAt time.Time) Booking {
	return Booking{
		ID:         uuid.New(),
		RequestID:  uuid.New(),
		LocumID:    uuid.New(),
		PracticeID: uuid.New(),
		StartsAt:   startsAt,
		EndsAt:     startsAt.Add(time.Hour),
		HourlyRate: 20,
		Status:     StatusConfirmed,
	}
}

func TestLocumCancelsTenHoursBefore(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := confirmedBooking(now.Add(10 * time.Hour))
	repo := newFakeRepo(b)
	svc := newTestService(repo, now)

	locum := actor.Context{ID: b.LocumID, Kind: actor.KindLocum}
	res, err := svc.CancelBooking(context.Background(), locum, CancelInput{BookingID: b.ID, Reason: "emergency"})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, res.Booking.Status)
	assert.False(t, res.Booking.CanCancel)
	assert.Equal(t, 120.0, res.Penalty.PenaltyAmount)
	assert.Equal(t, 6, res.Penalty.PenaltyHours)
	assert.Equal(t, "locum", res.Penalty.CancelledBy)
	assert.Equal(t, b.LocumID, res.Penalty.ChargedPartyID)
	assert.Equal(t, PenaltyPending, res.Penalty.Status)

	penalties, err := svc.ListPenalties(context.Background(), locum)
	require.NoError(t, err)
	require.Len(t, penalties, 1)

	practice := actor.Context{ID: b.PracticeID, Kind: actor.KindPractice}
	penalties, err = svc.ListPenalties(context.Background(), practice)
	require.NoError(t, err)
	assert.Empty(t, penalties)
}

func TestPracticeCancelIsChargedToPractice(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := confirmedBooking(now.Add(30 * time.Hour))
	svc := newTestService(newFakeRepo(b), now)

	practice := actor.Context{ID: b.PracticeID, Kind: actor.KindPractice}
	res, err := svc.CancelBooking(context.Background(), practice, CancelInput{
		BookingID: b.ID,
		Reason:    "closing early",
		Quote:     &Quote{PenaltyHours: 0, PenaltyAmount: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, "practice", res.Penalty.CancelledBy)
	assert.Equal(t, b.PracticeID, res.Penalty.ChargedPartyID)
	assert.Equal(t, 60.0, res.Penalty.PenaltyAmount, "server figure wins over client quote")
	assert.Equal(t, TierWithin48h, res.Tier)
}

func TestBranchCanCancelItsBooking(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	b := confirmedBooking(now.Add(72 * time.Hour))
	branchID := uuid.New()
	b.BranchID = &branchID
	svc := newTestService(newFakeRepo(b), now)

	branch := actor.Context{ID: branchID, Kind: actor.KindBranch, PracticeID: b.PracticeID}
	res, err := svc.CancelBooking(context.Background(), branch, CancelInput{BookingID: b.ID, Reason: "rota change"})
	require.NoError(t, err)
	assert.Equal(t, "branch", res.Penalty.CancelledBy)
	assert.Zero(t, res.Penalty.PenaltyAmount)
}

func TestCancelBookingRejections(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	started := confirmedBooking(now.Add(-time.Minute))
	upcoming := confirmedBooking(now.Add(5 * time.Hour))
	cancelled := confirmedBooking(now.Add(5 * time.Hour))
	cancelled.Status = StatusCancelled
	svc := newTestService(newFakeRepo(started, upcoming, cancelled), now)

	tests := []struct {
		name    string
		actor   actor.Context
		in      CancelInput
		wantErr error
	}{
		{
			name:    "missing reason",
			actor:   actor.Context{ID: upcoming.LocumID, Kind: actor.KindLocum},
			in:      CancelInput{BookingID: upcoming.ID, Reason: "   "},
			wantErr: ErrCancellationReasonRequired,
		},
		{
			name:    "stranger",
			actor:   actor.Context{ID: uuid.New(), Kind: actor.KindLocum},
			in:      CancelInput{BookingID: upcoming.ID, Reason: "x"},
			wantErr: ErrNotParty,
		},
		{
			name:    "already started",
			actor:   actor.Context{ID: started.LocumID, Kind: actor.KindLocum},
			in:      CancelInput{BookingID: started.ID, Reason: "x"},
			wantErr: ErrNotCancellable,
		},
		{
			name:    "already cancelled",
			actor:   actor.Context{ID: cancelled.PracticeID, Kind: actor.KindPractice},
			in:      CancelInput{BookingID: cancelled.ID, Reason: "x"},
			wantErr: ErrNotCancellable,
		},
		{
			name:    "unknown booking",
			actor:   actor.Context{ID: uuid.New(), Kind: actor.KindLocum},
			in:      CancelInput{BookingID: uuid.New(), Reason: "x"},
			wantErr: ErrBookingNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CancelBooking(context.Background(), tt.actor, tt.in)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListBookingsDerivesFlags(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := confirmedBooking(now.Add(3 * time.Hour))
	past := confirmedBooking(now.Add(-5 * time.Hour))
	past.LocumID = future.LocumID
	svc := newTestService(newFakeRepo(future, past), now)

	views, err := svc.ListBookings(context.Background(), future.LocumID, actor.KindLocum)
	require.NoError(t, err)
	require.Len(t, views, 2)

	byID := map[uuid.UUID]View{}
	for _, v := range views {
		byID[v.ID] = v
	}
	assert.True(t, byID[future.ID].CanCancel)
	assert.True(t, byID[future.ID].IsUpcoming)
	assert.True(t, byID[past.ID].IsPast)
	assert.False(t, byID[past.ID].CanCancel)

	views, err = svc.ListBookings(context.Background(), past.PracticeID, actor.KindPractice)
	require.NoError(t, err)
	assert.Len(t, views, 1)
}
