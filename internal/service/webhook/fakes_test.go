package webhook

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ignite/engagement-webhooks/internal/domain"
)

// memStore is an in-memory implementation of every repository the service
// and the suppression guard use. Update follows the same advance-only rules
// as the SQL statement.
type memStore struct {
	mu           sync.Mutex
	comms        map[string]*domain.Communication
	log          []domain.EventLogEntry
	profiles     []domain.Profile
	suppressions map[string]domain.Suppression
	enrollments  map[string]*domain.Enrollment

	failUpdate map[string]error // by communication id
	panicOnID  string           // panics when this record is updated
}

func newMemStore() *memStore {
	return &memStore{
		comms:        make(map[string]*domain.Communication),
		suppressions: make(map[string]domain.Suppression),
		enrollments:  make(map[string]*domain.Enrollment),
		failUpdate:   make(map[string]error),
	}
}

func (m *memStore) addComm(c domain.Communication) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Direction == "" {
		c.Direction = domain.DirectionSent
	}
	m.comms[c.ID] = &c
}

func (m *memStore) addEnrollment(e domain.Enrollment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enrollments[e.ID] = &e
}

func (m *memStore) comm(id string) domain.Communication {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.comms[id]
}

func (m *memStore) enrollment(id string) domain.Enrollment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.enrollments[id]
}

func (m *memStore) logEntries() []domain.EventLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.EventLogEntry(nil), m.log...)
}

func (m *memStore) suppressionRows() []domain.Suppression {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Suppression
	for _, s := range m.suppressions {
		out = append(out, s)
	}
	return out
}

func (m *memStore) commsByDirection(d domain.Direction) []domain.Communication {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Communication
	for _, c := range m.comms {
		if c.Direction == d {
			out = append(out, *c)
		}
	}
	return out
}

// CommunicationRepository

func (m *memStore) FindByID(_ context.Context, id string) (*domain.Communication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.comms[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *memStore) FindByProviderMessageID(_ context.Context, messageID string) (*domain.Communication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.comms {
		if c.ProviderMessageID == messageID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) FindLatestSent(_ context.Context, userID, toEmail string) (*domain.Communication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matches []*domain.Communication
	for _, c := range m.comms {
		if c.Direction == domain.DirectionSent && c.UserID == userID && strings.EqualFold(c.ToEmail, toEmail) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	cp := *matches[0]
	return &cp, nil
}

func (m *memStore) Update(_ context.Context, id string, u domain.CommunicationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == m.panicOnID {
		panic("simulated driver panic")
	}
	if err := m.failUpdate[id]; err != nil {
		return err
	}
	c, ok := m.comms[id]
	if !ok {
		return ErrNotFound
	}
	c.Apply(u)
	return nil
}

func (m *memStore) Insert(_ context.Context, c *domain.Communication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.comms[c.ID] = &cp
	return nil
}

// EventLogRepository

func (m *memStore) Contains(_ context.Context, providerEventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.log {
		if e.ProviderEventID == providerEventID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Append(_ context.Context, e *domain.EventLogEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ProviderEventID != "" {
		for _, existing := range m.log {
			if existing.ProviderEventID == e.ProviderEventID {
				return false, nil
			}
		}
	}
	m.log = append(m.log, *e)
	return true, nil
}

// ProfileRepository

func (m *memStore) FindByEmailLocalPart(_ context.Context, localPart string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if strings.EqualFold(strings.SplitN(p.Email, "@", 2)[0], localPart) {
			cp := p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// suppression.Repository

func (m *memStore) IsSuppressed(_ context.Context, userID, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.suppressions[userID+":"+email]
	return ok, nil
}

func (m *memStore) Suppress(_ context.Context, s *domain.Suppression) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := s.UserID + ":" + s.Email
	if _, ok := m.suppressions[k]; ok {
		return false, nil
	}
	m.suppressions[k] = *s
	return true, nil
}

func (m *memStore) Count(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.suppressions {
		if s.UserID == userID {
			n++
		}
	}
	return n, nil
}

// suppression.EnrollmentRepository

func (m *memStore) CancelActive(_ context.Context, userID, email string, reason domain.CancelReason) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.enrollments {
		if e.UserID == userID && strings.EqualFold(e.ContactEmail, email) && e.Status == domain.EnrollmentActive {
			e.Status = domain.EnrollmentCancelled
			e.CancelReason = reason
			n++
		}
	}
	return n, nil
}

func (m *memStore) Cancel(_ context.Context, id string, reason domain.CancelReason) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok || e.Status != domain.EnrollmentActive {
		return false, nil
	}
	e.Status = domain.EnrollmentCancelled
	e.CancelReason = reason
	return true, nil
}

// fakeMetrics collects recorded metrics.
type fakeMetrics struct {
	mu       sync.Mutex
	recorded []domain.WebhookMetrics
}

func (f *fakeMetrics) RecordMetrics(_ context.Context, m domain.WebhookMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, m)
	return nil
}

// fakeQueue collects enqueued tickets and the context state at enqueue time.
type fakeQueue struct {
	mu         sync.Mutex
	tickets    []*domain.RetryTicket
	ctxErrSeen []error
}

func (f *fakeQueue) Enqueue(ctx context.Context, t *domain.RetryTicket) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets = append(f.tickets, t)
	f.ctxErrSeen = append(f.ctxErrSeen, ctx.Err())
	return t.ID, nil
}

// fakeDedup is a map-backed DedupCache.
type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (f *fakeDedup) Seen(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.seen[id], nil
}

func (f *fakeDedup) Remember(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	f.seen[id] = true
	return nil
}

var testNow = time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC)
