package store

import "time"

// WorkItem is one pending unit of verification work, owned by the relay.
// At most one live WorkItem exists per client key; a new submission
// overwrites the previous one.
type WorkItem struct {
	Key          string    `json:"key"`
	CorrelationA string    `json:"correlation_a"`
	CorrelationB string    `json:"correlation_b"`
	OriginIP     string    `json:"origin_ip,omitempty"`
	Cookies      string    `json:"cookies,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	SourceURL    string    `json:"source_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResultStatus is the terminal state of a processed WorkItem.
type ResultStatus string

const (
	ResultCompleted ResultStatus = "completed"
	ResultError     ResultStatus = "error"
)

// ResultItem is the outcome posted by a processor for a client key.
// Posting a result retires the WorkItem under the same key.
type ResultItem struct {
	Key       string       `json:"key"`
	Token     string       `json:"token"`
	Status    ResultStatus `json:"status"`
	OriginIP  string       `json:"origin_ip,omitempty"`
	Instant   bool         `json:"instant"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewTaskStore creates the store for pending WorkItems.
func NewTaskStore() *Expiring[WorkItem] {
	return NewExpiring[WorkItem]()
}

// NewResultStore creates the store for posted ResultItems.
func NewResultStore() *Expiring[ResultItem] {
	return NewExpiring[ResultItem]()
}

// NewIPStore creates the client key -> last-known origin IP store.
// Lifecycle is tied to the WorkItem lifecycle.
func NewIPStore() *Expiring[string] {
	return NewExpiring[string]()
}
