// Package archive retains terminal request contexts and their compiled
// reports for audit lookups. Retention is bounded: when the capacity is
// reached the oldest record is dropped. Durable persistence is out of scope;
// callers needing it should drain records to external storage.
package archive

import (
	"errors"
	"sync"
	"time"

	"github.com/statdevs/leadmesh/core"
)

// ErrNotFound is returned when no archived record exists for a request id.
var ErrNotFound = errors.New("archive: record not found")

// defaultCapacity bounds retained records when none is configured.
const defaultCapacity = 512

// Record pairs an archived terminal context with its compiled report.
type Record struct {
	Context    *core.RequestContext
	Report     *core.Report
	ArchivedAt time.Time
}

// Archive is a bounded in-memory audit store, safe for concurrent access.
type Archive struct {
	mu      sync.RWMutex
	cap     int
	records map[string]Record
	order   []string
}

// New creates an archive retaining up to capacity records (<=0 uses the default).
func New(capacity int) *Archive {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Archive{
		cap:     capacity,
		records: make(map[string]Record, capacity),
	}
}

// Put archives a terminal context and its report, evicting the oldest record
// when at capacity. The context is cloned so later caller mutation cannot
// alter the audit trail.
func (a *Archive) Put(rc *core.RequestContext, report *core.Report) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.records[rc.ID]; !exists {
		if len(a.order) >= a.cap {
			oldest := a.order[0]
			a.order = a.order[1:]
			delete(a.records, oldest)
		}
		a.order = append(a.order, rc.ID)
	}
	a.records[rc.ID] = Record{
		Context:    rc.Clone(),
		Report:     report,
		ArchivedAt: time.Now(),
	}
}

// Get returns the archived record for a request id.
func (a *Archive) Get(requestID string) (Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[requestID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Len returns the number of retained records.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}
