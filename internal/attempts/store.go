package attempts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type Outcome string

const (
	OutcomeInitiated Outcome = "initiated"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one claim submission, kept for audit.
type Attempt struct {
	ID            string    `json:"id"`
	ClaimID       string    `json:"claimId"`
	UserID        string    `json:"userId"`
	WalletAddress string    `json:"walletAddress"`
	Outcome       Outcome   `json:"outcome"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store abstracts attempt persistence. List returns oldest first.
type Store interface {
	Save(ctx context.Context, attempt Attempt) error
	List(ctx context.Context, claimID string) ([]Attempt, error)
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]Attempt
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]Attempt),
	}
}

func (m *MemoryStore) Save(_ context.Context, attempt Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[attempt.ClaimID] = append(m.data[attempt.ClaimID], attempt)
	return nil
}

func (m *MemoryStore) List(_ context.Context, claimID string) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedCopy(m.data[claimID]), nil
}

// FileStore keeps every attempt in a single JSON document. Suitable for local dev.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string][]Attempt
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string][]Attempt),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

// persist writes to a temp file and renames it so a crash never leaves a torn document.
func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Save(_ context.Context, attempt Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[attempt.ClaimID] = append(f.data[attempt.ClaimID], attempt)
	return f.persist()
}

func (f *FileStore) List(_ context.Context, claimID string) ([]Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedCopy(f.data[claimID]), nil
}

func sortedCopy(in []Attempt) []Attempt {
	out := make([]Attempt, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
