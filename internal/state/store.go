// Package state holds the authoritative in-memory model of the queueing
// service: per-category ticket counters, waiting queues, the recent-calls
// panel, the finished-service history, and the ticket-to-connection session
// bindings. A single Store instance owns all of it; every mutating operation
// is atomic under one mutex, so concurrent HTTP handlers can never observe a
// half-applied Issue, Call, Finalize, or daily reset.
package state

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/guichetec/backend/internal/models"
)

const (
	maxRecentCalls = 4
	maxHistory     = 50
)

var (
	// ErrInvalidCategory is returned by Issue for an unrecognized category.
	ErrInvalidCategory = errors.New("invalid ticket category")
	// ErrMalformedResync is returned when a queue replacement payload does
	// not look like a sequence of tickets. Prior state is retained.
	ErrMalformedResync = errors.New("malformed resync payload")
)

// Store is the single owned state object for one service day.
type Store struct {
	mu  sync.Mutex
	now func() time.Time

	day time.Time // midnight of the current service day

	normalCounter   int
	priorityCounter int

	normalQueue   []models.Ticket
	priorityQueue []models.Ticket
	recentCalls   []models.CalledEntry
	history       []models.HistoryEntry

	bindings     map[string]string              // ticketID -> connectionID
	byConnection map[string]map[string]struct{} // connectionID -> ticketIDs
	currentCalls map[string]models.CalledEntry  // counter -> current call

	issuedAt     map[string]time.Time // ticketID -> issue time, for wait samples
	issuedRemote int
	issuedManual int
}

// New creates an empty Store using the wall clock.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty Store with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Store {
	s := &Store{
		now:          now,
		bindings:     make(map[string]string),
		byConnection: make(map[string]map[string]struct{}),
		currentCalls: make(map[string]models.CalledEntry),
		issuedAt:     make(map[string]time.Time),
	}
	s.day = dayOf(now())
	return s
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func formatNumber(n int) string {
	return fmt.Sprintf("%03d", n)
}

// Issue increments the category's counter, enqueues a new ticket at the tail
// of its queue, and returns it. When origin is remote and a connection ID is
// supplied, a session binding is created so the eventual call can be
// delivered to just that connection. Counter bump and enqueue are atomic: no
// interleaving issuance observes a stale counter.
func (s *Store) Issue(category models.Category, origin models.Origin, connectionID string) (models.Ticket, error) {
	if !category.Valid() {
		return models.Ticket{}, ErrInvalidCategory
	}
	if origin != models.OriginRemote {
		origin = models.OriginManual
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var number string
	if category == models.CategoryPriority {
		s.priorityCounter++
		number = formatNumber(s.priorityCounter)
	} else {
		s.normalCounter++
		number = formatNumber(s.normalCounter)
	}

	ticket := models.Ticket{
		Category:   category,
		Number:     number,
		Origin:     origin,
		IssuedAt:   now.UnixMilli(),
		IssuedDate: now.Format("02/01/2006"),
		IssuedTime: now.Format("15:04"),
	}

	if category == models.CategoryPriority {
		s.priorityQueue = append(s.priorityQueue, ticket)
	} else {
		s.normalQueue = append(s.normalQueue, ticket)
	}

	id := ticket.ID()
	s.issuedAt[id] = now
	if origin == models.OriginRemote {
		s.issuedRemote++
		if connectionID != "" {
			s.bind(id, connectionID)
		}
	} else {
		s.issuedManual++
	}

	return ticket, nil
}

// bind records the single live binding for a ticket. Callers hold s.mu.
func (s *Store) bind(ticketID, connectionID string) {
	s.bindings[ticketID] = connectionID
	if s.byConnection[connectionID] == nil {
		s.byConnection[connectionID] = make(map[string]struct{})
	}
	s.byConnection[connectionID][ticketID] = struct{}{}
}

// unbind removes a ticket's binding if one exists. Callers hold s.mu.
func (s *Store) unbind(ticketID string) (string, bool) {
	connectionID, ok := s.bindings[ticketID]
	if !ok {
		return "", false
	}
	delete(s.bindings, ticketID)
	if tickets := s.byConnection[connectionID]; tickets != nil {
		delete(tickets, ticketID)
		if len(tickets) == 0 {
			delete(s.byConnection, connectionID)
		}
	}
	return connectionID, true
}

// CallTicket registers a call event for the given ticket at the given
// counter: the ticket is removed from its queue if still present, the entry
// is prepended to the recent-calls panel (oldest evicted past capacity), and
// the counter's current-call slot is set. The ticket is allowed to be absent
// from the queue — operators may re-call a ticket or call one another
// console already synchronized away; the call trusts the caller's record.
// The returned connection ID is non-empty when a session binding exists for
// the ticket, so the caller can deliver the targeted notification.
func (s *Store) CallTicket(category models.Category, number, counter string) (models.CalledEntry, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dequeue(category, number)

	entry := models.CalledEntry{
		Category: category,
		Number:   number,
		Counter:  counter,
		CalledAt: s.now().Format(time.RFC3339),
	}
	s.recentCalls = append([]models.CalledEntry{entry}, s.recentCalls...)
	if len(s.recentCalls) > maxRecentCalls {
		s.recentCalls = s.recentCalls[:maxRecentCalls]
	}
	s.currentCalls[counter] = entry

	return entry, s.bindings[category.Prefix()+number]
}

// dequeue removes the ticket identified by (category, number) from its
// queue. Absence is not an error. Callers hold s.mu.
func (s *Store) dequeue(category models.Category, number string) {
	queue := &s.normalQueue
	if category == models.CategoryPriority {
		queue = &s.priorityQueue
	}
	for i, t := range *queue {
		if t.Number == number {
			*queue = append((*queue)[:i], (*queue)[i+1:]...)
			return
		}
	}
}

// Resync replaces both queues wholesale with operator-submitted contents.
// This is the one last-writer-wins path: the operator console is trusted as
// authoritative after local reordering or removal. Payloads containing
// tickets with no number or an unknown category are rejected and the prior
// state is retained. A nil slice keeps that queue unchanged.
func (s *Store) Resync(normal, priority []models.Ticket) error {
	for _, t := range normal {
		if t.Number == "" || !t.Category.Valid() {
			return ErrMalformedResync
		}
	}
	for _, t := range priority {
		if t.Number == "" || !t.Category.Valid() {
			return ErrMalformedResync
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if normal != nil {
		s.normalQueue = normal
	}
	if priority != nil {
		s.priorityQueue = priority
	}
	return nil
}

// FinalizeService appends a finished-service record to the history ledger
// (oldest evicted past capacity), removes the ticket's session binding, and
// frees the counter's current-call slot. Finalizing a ticket the store never
// saw called is accepted: the operator console is the source of truth for
// what happened at the counter, so the engine records what it is told.
func (s *Store) FinalizeService(counter, ticketID string, category models.Category, number string, finishedAt int64) models.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticketID == "" {
		ticketID = category.Prefix() + number
	}
	if finishedAt == 0 {
		finishedAt = s.now().UnixMilli()
	}

	entry := models.HistoryEntry{
		Counter:    counter,
		TicketID:   ticketID,
		Category:   category,
		Number:     number,
		FinishedAt: finishedAt,
	}
	s.history = append([]models.HistoryEntry{entry}, s.history...)
	if len(s.history) > maxHistory {
		s.history = s.history[:maxHistory]
	}

	s.unbind(ticketID)
	delete(s.currentCalls, counter)

	return entry
}

// FinalizePatient removes the session binding for a ticket at the patient's
// own request. Reports whether a binding existed.
func (s *Store) FinalizePatient(ticketID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unbind(ticketID)
	return ok
}

// BoundConnection returns the connection a ticket is bound to, if any.
func (s *Store) BoundConnection(ticketID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	connectionID, ok := s.bindings[ticketID]
	return connectionID, ok
}

// DropConnection removes every session binding owned by a disconnected
// connection. Queues and history are never touched by a disconnect.
func (s *Store) DropConnection(connectionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ticketID := range s.byConnection[connectionID] {
		delete(s.bindings, ticketID)
	}
	delete(s.byConnection, connectionID)
}

// Snapshot returns a copy of the broadcastable queue state.
func (s *Store) Snapshot() models.QueueState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() models.QueueState {
	normal := append([]models.Ticket{}, s.normalQueue...)
	priority := append([]models.Ticket{}, s.priorityQueue...)
	waiting := make([]models.Ticket, 0, len(priority)+len(normal))
	waiting = append(waiting, priority...)
	waiting = append(waiting, normal...)
	return models.QueueState{
		NormalQueue:   normal,
		PriorityQueue: priority,
		WaitingQueue:  waiting,
		RecentCalls:   append([]models.CalledEntry{}, s.recentCalls...),
	}
}

// InitialState returns the connect-time snapshot, which additionally carries
// the history ledger. This is the only consistency mechanism for a party
// that missed earlier broadcasts; there is no replay log.
func (s *Store) InitialState() models.InitialState {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.snapshotLocked()
	return models.InitialState{
		NormalQueue:   qs.NormalQueue,
		PriorityQueue: qs.PriorityQueue,
		WaitingQueue:  qs.WaitingQueue,
		RecentCalls:   qs.RecentCalls,
		History:       append([]models.HistoryEntry{}, s.history...),
	}
}

// RolloverIfNewDay compares the current calendar day against the last
// observed one. On a day change it snapshots the daily report, clears every
// collection and counter, and returns the report. The check and the clear
// are a single atomic step relative to Issue/Call/Finalize. The report is
// nil when the day changed but nothing was issued or finished.
func (s *Store) RolloverIfNewDay() (*models.DailyReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := dayOf(s.now())
	if today.Equal(s.day) {
		return nil, false
	}

	var report *models.DailyReport
	if s.normalCounter > 0 || s.priorityCounter > 0 || len(s.history) > 0 {
		r := s.buildReportLocked()
		report = &r
	}

	s.normalCounter = 0
	s.priorityCounter = 0
	s.normalQueue = nil
	s.priorityQueue = nil
	s.recentCalls = nil
	s.history = nil
	s.bindings = make(map[string]string)
	s.byConnection = make(map[string]map[string]struct{})
	s.currentCalls = make(map[string]models.CalledEntry)
	s.issuedAt = make(map[string]time.Time)
	s.issuedRemote = 0
	s.issuedManual = 0
	s.day = today

	return report, true
}

// buildReportLocked aggregates the day that is about to be archived. The
// average wait is computed over history entries whose issuance is still in
// the per-day index; with no matches it is zero. Callers hold s.mu.
func (s *Store) buildReportLocked() models.DailyReport {
	var samples []float64
	for _, entry := range s.history {
		issued, ok := s.issuedAt[entry.TicketID]
		if !ok {
			continue
		}
		waited := float64(entry.FinishedAt-issued.UnixMilli()) / 60000.0
		if waited >= 0 {
			samples = append(samples, waited)
		}
	}

	var average float64
	if len(samples) > 0 {
		var sum float64
		for _, w := range samples {
			sum += w
		}
		average = math.Round(sum/float64(len(samples))*100) / 100
	}

	return models.DailyReport{
		Date:         s.day.Format("2006-01-02"),
		TotalTickets: s.normalCounter + s.priorityCounter,
		ByCategory: models.CategoryCount{
			Normal:   s.normalCounter,
			Priority: s.priorityCounter,
		},
		AverageWaitMinutes: average,
		IssuedByOrigin: models.OriginCount{
			Remote: s.issuedRemote,
			Manual: s.issuedManual,
		},
	}
}
