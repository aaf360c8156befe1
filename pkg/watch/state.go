package watch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const stateFileName = "watch_state.json"

// SourceState contains the last cycle information for a source
type SourceState struct {
	LastCycleTime  time.Time `json:"last_cycle_time"`
	TasksSubmitted int       `json:"tasks_submitted"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// RunState is the persistent state for the watch loop
type RunState struct {
	Sources   map[string]SourceState `json:"sources"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// StateManager persists per-source cycle state between process runs.
// With an empty stateDir the state is memory-only and lost on exit.
type StateManager struct {
	stateDir  string
	statePath string
	state     RunState
	mu        sync.RWMutex
}

// NewStateManager creates a state manager rooted at stateDir
func NewStateManager(stateDir string) *StateManager {
	m := &StateManager{
		stateDir: stateDir,
		state:    RunState{Sources: make(map[string]SourceState)},
	}
	if stateDir != "" {
		m.statePath = filepath.Join(stateDir, stateFileName)
	}
	return m
}

// Load reads the state from disk. A missing file starts fresh.
func (m *StateManager) Load() error {
	if m.statePath == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			m.state = RunState{Sources: make(map[string]SourceState)}
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &m.state); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}
	if m.state.Sources == nil {
		m.state.Sources = make(map[string]SourceState)
	}
	return nil
}

// Save writes the state to disk
func (m *StateManager) Save() error {
	if m.statePath == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.UpdatedAt = time.Now()

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

// SourceState returns the recorded state for a source
func (m *StateManager) SourceState(name string) (SourceState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.state.Sources[name]
	return st, ok
}

// UpdateSourceState records the outcome of one submission cycle
func (m *StateManager) UpdateSourceState(name string, submitted int, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Sources[name] = SourceState{
		LastCycleTime:  time.Now(),
		TasksSubmitted: submitted,
		ErrorMessage:   errorMsg,
	}
}

// ShouldRun reports whether a source's interval has elapsed since its last
// cycle. Sources never cycled run immediately.
func (m *StateManager) ShouldRun(name string, interval time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.state.Sources[name]
	if !ok {
		return true
	}
	return time.Since(st.LastCycleTime) >= interval
}

// NextRunTime returns when the source is next due
func (m *StateManager) NextRunTime(name string, interval time.Duration) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.state.Sources[name]
	if !ok {
		return time.Now()
	}
	return st.LastCycleTime.Add(interval)
}
