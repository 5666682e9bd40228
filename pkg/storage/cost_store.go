package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CostStoreDir is where the repo-scoped spend ledger lives, alongside the
// harness's run reports and telemetry log.
const CostStoreDir = ".cosmos/apply_harness"

const costStoreFile = "cost_store.json"

// costLedger is the on-disk shape of a FileStore, written atomically as a
// whole on every mutation.
type costLedger struct {
	Sessions map[string]*Session `json:"sessions"`
	Calls    []*APICall          `json:"calls"`
	nextID   int64
}

// FileStore is a file-backed costStore: every mutation serializes the full
// ledger to a temp file and renames it into place, the same atomic-write
// idiom the harness uses for its JSON run reports.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore opens (or creates) the cost ledger for a repo.
func NewFileStore(repoRoot string) (*FileStore, error) {
	dir := filepath.Join(repoRoot, CostStoreDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cost store directory: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, costStoreFile)}, nil
}

func (fs *FileStore) load() (*costLedger, error) {
	ledger := &costLedger{Sessions: make(map[string]*Session)}

	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cost store: %w", err)
	}
	if len(data) == 0 {
		return ledger, nil
	}
	if err := json.Unmarshal(data, ledger); err != nil {
		return nil, fmt.Errorf("decode cost store: %w", err)
	}
	if ledger.Sessions == nil {
		ledger.Sessions = make(map[string]*Session)
	}
	for _, call := range ledger.Calls {
		if call.ID >= ledger.nextID {
			ledger.nextID = call.ID + 1
		}
	}
	return ledger, nil
}

func (fs *FileStore) save(ledger *costLedger) error {
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cost store: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cost store: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("rename cost store into place: %w", err)
	}
	return nil
}

// GetSession returns the session for sessionID, creating one with a zero
// balance if it has never been seen.
func (fs *FileStore) GetSession(sessionID string) (*Session, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ledger, err := fs.load()
	if err != nil {
		return nil, err
	}

	if session, ok := ledger.Sessions[sessionID]; ok {
		return session, nil
	}

	now := time.Now().UTC()
	session := &Session{ID: sessionID, CreatedAt: now, LastActive: now}
	ledger.Sessions[sessionID] = session
	if err := fs.save(ledger); err != nil {
		return nil, err
	}
	return session, nil
}

// GetDailyCost sums the cost of every call recorded since the start of today.
func (fs *FileStore) GetDailyCost() (float64, error) {
	return fs.sumSince(time.Now().UTC().Format("2006-01-02"), func(ts time.Time) string {
		return ts.Format("2006-01-02")
	})
}

// GetMonthlyCost sums the cost of every call recorded since the start of the
// current month.
func (fs *FileStore) GetMonthlyCost() (float64, error) {
	return fs.sumSince(time.Now().UTC().Format("2006-01"), func(ts time.Time) string {
		return ts.Format("2006-01")
	})
}

func (fs *FileStore) sumSince(bucket string, keyOf func(time.Time) string) (float64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ledger, err := fs.load()
	if err != nil {
		return 0, err
	}

	var total float64
	for _, call := range ledger.Calls {
		if keyOf(call.Timestamp.UTC()) == bucket {
			total += call.Cost
		}
	}
	return total, nil
}

// SaveAPICall appends a priced call to the ledger and rolls its cost into
// the owning session's running total.
func (fs *FileStore) SaveAPICall(call *APICall) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	ledger, err := fs.load()
	if err != nil {
		return err
	}

	call.ID = ledger.nextID
	ledger.nextID++
	ledger.Calls = append(ledger.Calls, call)

	session, ok := ledger.Sessions[call.SessionID]
	if !ok {
		now := time.Now().UTC()
		session = &Session{ID: call.SessionID, CreatedAt: now}
		ledger.Sessions[call.SessionID] = session
	}
	session.TotalCost += call.Cost
	session.LastActive = time.Now().UTC()

	return fs.save(ledger)
}
