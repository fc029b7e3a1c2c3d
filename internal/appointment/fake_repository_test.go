package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/locum-marketplace/internal/booking"
)

type responseKey struct{ request, locum uuid.UUID }

// memRepo mirrors the conditional updates of PgRepository in memory.
type memRepo struct {
	mu            sync.Mutex
	requests      map[uuid.UUID]*AppointmentRequest
	responses     map[responseKey]*ApplicantResponse
	responseOrder []responseKey
	confirmations map[uuid.UUID]*SelectionConfirmation
	locums        map[uuid.UUID]*LocumProfile
	branches      map[uuid.UUID]uuid.UUID
	bookings      []booking.Booking
	events        []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		requests:      map[uuid.UUID]*AppointmentRequest{},
		responses:     map[responseKey]*ApplicantResponse{},
		confirmations: map[uuid.UUID]*SelectionConfirmation{},
		locums:        map[uuid.UUID]*LocumProfile{},
		branches:      map[uuid.UUID]uuid.UUID{},
	}
}

func (m *memRepo) addLocum(p LocumProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locums[p.ID] = &p
}

func (m *memRepo) CreateRequest(_ context.Context, req *AppointmentRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *memRepo) GetRequest(_ context.Context, id uuid.UUID) (*AppointmentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) activeLocked(requestID uuid.UUID) *SelectionConfirmation {
	for _, c := range m.confirmations {
		if c.RequestID == requestID && c.Status == ConfirmationPracticeConfirmed {
			return c
		}
	}
	return nil
}

func (m *memRepo) ListOpenRequests(_ context.Context, role Role, now time.Time) ([]AppointmentRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentRequest
	for _, r := range m.requests {
		if r.Status != RequestOpen || r.RequiredRole != role || !r.StartsAt.After(now) {
			continue
		}
		if c := m.activeLocked(r.ID); c != nil && c.IsActive(now) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (m *memRepo) ListPracticeRequests(_ context.Context, ownerID uuid.UUID, limit, offset int) ([]RequestSummary, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []RequestSummary
	for _, r := range m.requests {
		if r.PracticeID != ownerID && (r.BranchID == nil || *r.BranchID != ownerID) {
			continue
		}
		sum := RequestSummary{Request: *r, ApplicantCount: m.countAppliedLocked(r.ID)}
		if c := m.activeLocked(r.ID); c != nil {
			exp := c.ExpiresAt
			sum.ActiveExpiresAt = &exp
		}
		all = append(all, sum)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Request.CreatedAt.After(all[j].Request.CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRepo) CancelRequest(_ context.Context, id uuid.UUID, now time.Time) (*AppointmentRequest, []SelectionConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.Status != RequestOpen {
		return nil, nil, ErrConflict
	}
	r.Status = RequestCancelled
	r.UpdatedAt = now
	var expired []SelectionConfirmation
	for _, c := range m.confirmations {
		if c.RequestID == id && c.Status == ConfirmationPracticeConfirmed {
			c.Status = ConfirmationExpired
			expired = append(expired, *c)
		}
	}
	cp := *r
	return &cp, expired, nil
}

func (m *memRepo) GetBranchPractice(_ context.Context, branchID uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.branches[branchID]
	if !ok {
		return uuid.Nil, ErrBranchNotFound
	}
	return p, nil
}

func (m *memRepo) GetLocumProfile(_ context.Context, id uuid.UUID) (*LocumProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.locums[id]
	if !ok {
		return nil, ErrLocumNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetResponse(_ context.Context, requestID, locumID uuid.UUID) (*ApplicantResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.responses[responseKey{requestID, locumID}]
	if !ok {
		return nil, ErrResponseNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) ListRespondedRequestIDs(_ context.Context, locumID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for k := range m.responses {
		if k.locum == locumID {
			ids = append(ids, k.request)
		}
	}
	return ids, nil
}

func (m *memRepo) CreateResponse(_ context.Context, resp *ApplicantResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := responseKey{resp.RequestID, resp.LocumID}
	if _, exists := m.responses[k]; exists {
		return ErrConflict
	}
	cp := *resp
	m.responses[k] = &cp
	m.responseOrder = append(m.responseOrder, k)
	return nil
}

func (m *memRepo) ListApplicants(_ context.Context, requestID uuid.UUID) ([]Applicant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Applicant
	for _, k := range m.responseOrder {
		r := m.responses[k]
		if k.request != requestID || r.Status != ResponseApplied {
			continue
		}
		out = append(out, Applicant{Response: *r, Profile: *m.locums[k.locum]})
	}
	return out, nil
}

func (m *memRepo) countAppliedLocked(requestID uuid.UUID) int {
	n := 0
	for k, r := range m.responses {
		if k.request == requestID && r.Status == ResponseApplied {
			n++
		}
	}
	return n
}

func (m *memRepo) CountApplied(_ context.Context, requestID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countAppliedLocked(requestID), nil
}

func (m *memRepo) GetActiveConfirmation(_ context.Context, requestID uuid.UUID) (*SelectionConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.activeLocked(requestID)
	if c == nil {
		return nil, ErrConfirmationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) GetConfirmation(_ context.Context, id uuid.UUID) (*SelectionConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirmations[id]
	if !ok {
		return nil, ErrConfirmationNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) CreateConfirmation(_ context.Context, c *SelectionConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeLocked(c.RequestID) != nil {
		return ErrConflict
	}
	cp := *c
	m.confirmations[c.ID] = &cp
	return nil
}

func (m *memRepo) withdrawLocked(requestID, locumID uuid.UUID) {
	if r, ok := m.responses[responseKey{requestID, locumID}]; ok && r.Status == ResponseApplied {
		r.Status = ResponseWithdrawn
	}
}

func (m *memRepo) ExpireConfirmation(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirmations[id]
	if !ok || !c.IsStale(now) {
		return false, nil
	}
	c.Status = ConfirmationExpired
	m.withdrawLocked(c.RequestID, c.LocumID)
	return true, nil
}

func (m *memRepo) FindStaleConfirmations(_ context.Context, now time.Time, limit int) ([]SelectionConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SelectionConfirmation
	for _, c := range m.confirmations {
		if c.IsStale(now) && len(out) < limit {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memRepo) ConfirmSelection(_ context.Context, c *SelectionConfirmation, now time.Time, b *booking.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.confirmations[c.ID]
	if !ok || !stored.IsActive(now) {
		return ErrConflict
	}
	req := m.requests[c.RequestID]
	if req.Status != RequestOpen {
		return ErrConflict
	}
	stored.Status = ConfirmationLocumConfirmed
	stored.RespondedAt = &now
	req.Status = RequestBooked
	if r, ok := m.responses[responseKey{c.RequestID, c.LocumID}]; ok {
		r.Status = ResponseAccepted
	}
	m.bookings = append(m.bookings, *b)
	return nil
}

func (m *memRepo) RejectSelection(_ context.Context, id uuid.UUID, reason string, now time.Time) (*SelectionConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.confirmations[id]
	if !ok || !c.IsActive(now) {
		return nil, ErrConflict
	}
	c.Status = ConfirmationLocumRejected
	c.RejectionReason = &reason
	c.RespondedAt = &now
	m.withdrawLocked(c.RequestID, c.LocumID)
	cp := *c
	return &cp, nil
}

func (m *memRepo) ListPendingConfirmations(_ context.Context, locumID uuid.UUID, now time.Time) ([]PendingConfirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingConfirmation
	for _, c := range m.confirmations {
		if c.LocumID == locumID && c.IsActive(now) {
			out = append(out, PendingConfirmation{Confirmation: *c, Request: *m.requests[c.RequestID]})
		}
	}
	return out, nil
}

func (m *memRepo) ListApplyHistory(_ context.Context, locumID uuid.UUID) ([]ApplyHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ApplyHistoryEntry
	for _, k := range m.responseOrder {
		if k.locum != locumID {
			continue
		}
		e := ApplyHistoryEntry{Response: *m.responses[k], Request: *m.requests[k.request]}
		for _, c := range m.confirmations {
			if c.RequestID == k.request && c.LocumID == locumID {
				cp := *c
				e.Confirmation = &cp
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.EventType
	}
	return out
}
