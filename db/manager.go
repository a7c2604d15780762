package db

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/halcyonpay/reconciler/store"
)

// Manager owns the ledger database and the per-chain scan-state databases.
// The ledger is a single database so one transaction can cover treasury,
// wallet, record and history writes; scan state is isolated per chain so a
// busy scanner never contends with another chain's watermark updates.
type Manager struct {
	baseDir  string
	ledger   *DB
	chains   map[string]*DB // chainID -> scan-state DB
	mu       sync.RWMutex
	logger   zerolog.Logger
	inMemory bool // for testing with in-memory databases
}

// NewManager creates a new database manager rooted at baseDir.
func NewManager(baseDir string, logger zerolog.Logger) *Manager {
	return &Manager{
		baseDir: baseDir,
		chains:  make(map[string]*DB),
		logger:  logger.With().Str("component", "db_manager").Logger(),
	}
}

// NewInMemoryManager creates a manager with in-memory databases (for testing).
func NewInMemoryManager(logger zerolog.Logger) *Manager {
	return &Manager{
		chains:   make(map[string]*DB),
		logger:   logger.With().Str("component", "db_manager").Logger(),
		inMemory: true,
	}
}

// LedgerDB returns the ledger database, opening it lazily on first access.
func (m *Manager) LedgerDB() (*DB, error) {
	m.mu.RLock()
	if m.ledger != nil {
		defer m.mu.RUnlock()
		return m.ledger, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledger != nil {
		return m.ledger, nil
	}

	var (
		ledger *DB
		err    error
	)
	if m.inMemory {
		ledger, err = OpenInMemoryDB(store.LedgerModels)
	} else {
		dir := filepath.Join(m.baseDir, "ledger")
		ledger, err = OpenFileDB(dir, "ledger.db", store.LedgerModels)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ledger database")
	}

	m.ledger = ledger
	m.logger.Info().Bool("in_memory", m.inMemory).Msg("opened ledger database")
	return ledger, nil
}

// ChainDB returns the scan-state database for a specific chain,
// creating it lazily if it doesn't exist.
func (m *Manager) ChainDB(chainID string) (*DB, error) {
	m.mu.RLock()
	if database, exists := m.chains[chainID]; exists {
		m.mu.RUnlock()
		return database, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if database, exists := m.chains[chainID]; exists {
		return database, nil
	}

	var (
		database *DB
		err      error
	)
	if m.inMemory {
		database, err = OpenInMemoryDB(store.ScanModels)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create in-memory database for chain %s", chainID)
		}
	} else {
		chainDir := filepath.Join(m.baseDir, "chains", sanitizeChainID(chainID))
		database, err = OpenFileDB(chainDir, "scan_state.db", store.ScanModels)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create database for chain %s", chainID)
		}
		m.logger.Info().
			Str("chain_id", chainID).
			Str("db_path", filepath.Join(chainDir, "scan_state.db")).
			Msg("created scan-state database for chain")
	}

	m.chains[chainID] = database
	return database, nil
}

// CloseChainDB closes and removes a specific chain's scan-state database.
func (m *Manager) CloseChainDB(chainID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	database, exists := m.chains[chainID]
	if !exists {
		return nil // already closed or never opened
	}

	if err := database.Close(); err != nil {
		return errors.Wrapf(err, "failed to close database for chain %s", chainID)
	}

	delete(m.chains, chainID)
	m.logger.Info().Str("chain_id", chainID).Msg("closed scan-state database for chain")
	return nil
}

// CloseAll closes the ledger database and all chain databases.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for chainID, database := range m.chains {
		if err := database.Close(); err != nil {
			errs = append(errs, errors.Wrapf(err, "failed to close database for chain %s", chainID))
		}
	}
	m.chains = make(map[string]*DB)

	if m.ledger != nil {
		if err := m.ledger.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close ledger database"))
		}
		m.ledger = nil
	}

	if len(errs) > 0 {
		return errors.Errorf("failed to close %d databases", len(errs))
	}
	return nil
}

// sanitizeChainID converts a CAIP-2 chain ID to a filesystem-safe format,
// e.g. "eip155:11155111" -> "eip155_11155111".
func sanitizeChainID(chainID string) string {
	result := ""
	for _, r := range chainID {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			result += string(r)
		} else {
			result += "_"
		}
	}
	return result
}
