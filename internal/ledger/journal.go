package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loyalpass/loyalpass/internal/chain"
)

// Journal statuses.
const (
	JournalPending   = "pending"
	JournalConfirmed = "confirmed"
	JournalFailed    = "failed"
	JournalAmbiguous = "ambiguous"
)

// JournalEntry records one submitted transaction.
type JournalEntry struct {
	ID        uuid.UUID `json:"id"`
	Op        string    `json:"op"`
	Signature string    `json:"signature"`
	Status    string    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Journal keeps every submitted transaction so ambiguous outcomes can be reconciled
// out of band.
type Journal interface {
	Record(ctx context.Context, op string, sig chain.Signature) error
	Resolve(ctx context.Context, sig chain.Signature, status, detail string) error
	List(ctx context.Context, status string) ([]JournalEntry, error)
}

type memoryJournal struct {
	mu      sync.RWMutex
	entries map[string]JournalEntry
}

// NewMemoryJournal returns a process-local journal.
func NewMemoryJournal() Journal {
	return &memoryJournal{entries: make(map[string]JournalEntry)}
}

func (j *memoryJournal) Record(_ context.Context, op string, sig chain.Signature) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now().UTC()
	j.entries[sig.String()] = JournalEntry{
		ID:        uuid.New(),
		Op:        op,
		Signature: sig.String(),
		Status:    JournalPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return nil
}

func (j *memoryJournal) Resolve(_ context.Context, sig chain.Signature, status, detail string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	entry, ok := j.entries[sig.String()]
	if !ok {
		return nil
	}
	entry.Status = status
	entry.Detail = detail
	entry.UpdatedAt = time.Now().UTC()
	j.entries[sig.String()] = entry
	return nil
}

func (j *memoryJournal) List(_ context.Context, status string) ([]JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]JournalEntry, 0, len(j.entries))
	for _, e := range j.entries {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}
