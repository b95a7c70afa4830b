package models

// Category classifies a ticket's service lane.
type Category string

const (
	CategoryNormal   Category = "normal"
	CategoryPriority Category = "priority"
)

// Prefix returns the single-letter ticket ID prefix for the category.
func (c Category) Prefix() string {
	if c == CategoryPriority {
		return "P"
	}
	return "N"
}

// Valid reports whether the category is one of the two known lanes.
func (c Category) Valid() bool {
	return c == CategoryNormal || c == CategoryPriority
}

// Origin records where a ticket was issued from.
type Origin string

const (
	OriginManual Origin = "manual" // front-desk kiosk / printed ticket
	OriginRemote Origin = "remote" // patient's own device, wants a targeted call
)

// Ticket is an issued, numbered request for service. Identity is
// (Category, Number), unique within a calendar day.
type Ticket struct {
	Category   Category `json:"category"`
	Number     string   `json:"number"`
	Origin     Origin   `json:"origin"`
	IssuedAt   int64    `json:"issuedAt"` // unix milliseconds
	IssuedDate string   `json:"issuedDate"`
	IssuedTime string   `json:"issuedTime"`
}

// ID returns the prefixed ticket identifier, e.g. "N001" or "P042".
func (t Ticket) ID() string {
	return t.Category.Prefix() + t.Number
}

// CalledEntry is a call event shown on the public panel. The same ticket may
// produce several entries if it is re-called.
type CalledEntry struct {
	Category Category `json:"category"`
	Number   string   `json:"number"`
	Counter  string   `json:"counter"`
	CalledAt string   `json:"calledAt"` // RFC 3339
}

// HistoryEntry records a finished service.
type HistoryEntry struct {
	Counter    string   `json:"counter"`
	TicketID   string   `json:"ticketId"`
	Category   Category `json:"category"`
	Number     string   `json:"number"`
	FinishedAt int64    `json:"finishedAt"` // unix milliseconds
}

// QueueState is the full-state broadcast payload. WaitingQueue is the
// combined view with priority tickets ahead of normal ones.
type QueueState struct {
	NormalQueue   []Ticket      `json:"normalQueue"`
	PriorityQueue []Ticket      `json:"priorityQueue"`
	WaitingQueue  []Ticket      `json:"waitingQueue"`
	RecentCalls   []CalledEntry `json:"recentCalls"`
}

// InitialState is sent to a connection right after it subscribes.
type InitialState struct {
	NormalQueue   []Ticket       `json:"normalQueue"`
	PriorityQueue []Ticket       `json:"priorityQueue"`
	WaitingQueue  []Ticket       `json:"waitingQueue"`
	RecentCalls   []CalledEntry  `json:"recentCalls"`
	History       []HistoryEntry `json:"history"`
}

// Ticket issuance
type IssueTicketRequest struct {
	Category Category `json:"category"`
	Origin   Origin   `json:"origin,omitempty"`
}

type IssueTicketResponse struct {
	Ticket Ticket `json:"ticket"`
	Number string `json:"number"`
}

// Calling a ticket to a counter
type CallTicketRequest struct {
	Category Category `json:"category"`
	Number   string   `json:"number"`
	Counter  string   `json:"counter"`
}

// TicketCalledEvent is broadcast to every connection on a call.
type TicketCalledEvent struct {
	CurrentCalled CalledEntry `json:"currentCalled"`
}

// CounterCalledEvent is unicast to the connection bound to the called ticket.
type CounterCalledEvent struct {
	Ticket  string `json:"ticket"`
	Counter string `json:"counter"`
}

// Operator-submitted authoritative queue replacement
type ResyncRequest struct {
	NormalQueue   []Ticket `json:"normalQueue"`
	PriorityQueue []Ticket `json:"priorityQueue"`
}

// Finishing a service at a counter
type FinalizeRequest struct {
	Counter    string   `json:"counter"`
	TicketID   string   `json:"ticketId"`
	Category   Category `json:"category"`
	Number     string   `json:"number"`
	FinishedAt int64    `json:"finishedAt,omitempty"`
}

// CounterFreedEvent is broadcast when a counter finishes serving.
type CounterFreedEvent struct {
	Counter string `json:"counter"`
}

// Patient acknowledging their finished service (binding removal only)
type AckTicketRequest struct {
	TicketID string `json:"ticketId"`
}

// ConnectedEvent is the first SSE event on a new stream; the token authorizes
// requests made on behalf of this connection.
type ConnectedEvent struct {
	ConnectionID string `json:"connectionId"`
	Token        string `json:"token"`
}

// DailyReport is the rollover snapshot handed to the report archive.
type DailyReport struct {
	Date               string        `json:"date"` // YYYY-MM-DD
	TotalTickets       int           `json:"totalTickets"`
	ByCategory         CategoryCount `json:"byCategory"`
	AverageWaitMinutes float64       `json:"averageWaitMinutes"`
	IssuedByOrigin     OriginCount   `json:"issuedByOrigin"`
}

type CategoryCount struct {
	Normal   int `json:"normal"`
	Priority int `json:"priority"`
}

type OriginCount struct {
	Remote int `json:"remote"`
	Manual int `json:"manual"`
}

// Error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
