package schedule

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFileName = "schedule_state.json"

// RunState records the last scheduled scan
type RunState struct {
	LastRunTime    time.Time `json:"last_run_time"`
	LastRunSuccess bool      `json:"last_run_success"`
	BatchID        string    `json:"batch_id,omitempty"`
	ItemsProcessed int       `json:"items_processed"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// StateManager persists RunState in the state directory so a restart does
// not repeat or silently drop the daily scan
type StateManager struct {
	stateDir  string
	statePath string
	state     RunState
	hasState  bool
	mu        sync.RWMutex
}

// NewStateManager creates a state manager for stateDir
func NewStateManager(stateDir string) *StateManager {
	return &StateManager{
		stateDir:  stateDir,
		statePath: filepath.Join(stateDir, stateFileName),
	}
}

// Load reads the state file; a missing file is not an error
func (m *StateManager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state, m.hasState = RunState{}, false
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}
	var st RunState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	m.state, m.hasState = st, true
	return nil
}

// Save writes the state file
func (m *StateManager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now().UTC()
	if err := os.MkdirAll(m.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Last returns the recorded state and whether a scan has ever run
func (m *StateManager) Last() (RunState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.hasState
}

// Record stores the outcome of a scan started at startedAt
func (m *StateManager) Record(startedAt time.Time, batchID string, processed int, runErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = RunState{
		LastRunTime:    startedAt,
		LastRunSuccess: runErr == nil,
		BatchID:        batchID,
		ItemsProcessed: processed,
	}
	if runErr != nil {
		m.state.ErrorMessage = runErr.Error()
	}
	m.hasState = true
}
