// Package history keeps the bounded, newest-first list of completed commands.
package history

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"limone/pkg/protocol"
)

// SlotKey is the key the task list is stored under.
const SlotKey = "limoneide_recent_tasks"

const DefaultCap = 10

// Slot is a persistent single-value location for the serialized list.
type Slot interface {
	Load() ([]byte, error)
	Save([]byte) error
}

type Store struct {
	mu     sync.RWMutex
	tasks  []protocol.Task
	cap    int
	slot   Slot
	log    *slog.Logger
	lastID int64

	now func() time.Time
}

func New(slot Slot, capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		cap:  capacity,
		slot: slot,
		log:  logger.With("component", "history"),
		now:  time.Now,
	}
}

// Load replaces the in-memory list with the persisted one. Absent or corrupt
// data leaves the store empty.
func (s *Store) Load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = nil
	if s.slot == nil {
		return
	}

	data, err := s.slot.Load()
	if err != nil {
		s.log.Error("Failed to read history", "err", err)
		return
	}
	if len(data) == 0 {
		return
	}

	var tasks []protocol.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		s.log.Warn("Discarding corrupt history", "err", err)
		return
	}

	if len(tasks) > s.cap {
		tasks = tasks[:s.cap]
	}
	s.tasks = tasks
	s.seedIDsLocked()
	s.log.Debug("Loaded history", "tasks", len(tasks))
}

// Append prepends task, evicts the oldest entries beyond the cap and saves.
func (s *Store) Append(task protocol.Task) {
	s.mu.Lock()
	s.tasks = append([]protocol.Task{task}, s.tasks...)
	if len(s.tasks) > s.cap {
		s.tasks = s.tasks[:s.cap]
	}
	s.seedIDsLocked()
	s.saveLocked()
	s.mu.Unlock()
}

// Record builds a task for a completed command and appends it.
func (s *Store) Record(command string, kind protocol.Kind) protocol.Task {
	s.mu.Lock()
	now := s.now()
	id := now.UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id
	s.mu.Unlock()

	task := protocol.Task{
		ID:      strconv.FormatInt(id, 10),
		Title:   command,
		Time:    protocol.KoreanClock(now),
		Icon:    kind.Icon(),
		Command: command,
	}
	s.Append(task)
	return task
}

// Replace seeds the store, e.g. from the backend's recent tasks.
func (s *Store) Replace(tasks []protocol.Task) {
	s.mu.Lock()
	s.tasks = append([]protocol.Task(nil), tasks...)
	if len(s.tasks) > s.cap {
		s.tasks = s.tasks[:s.cap]
	}
	s.seedIDsLocked()
	s.saveLocked()
	s.mu.Unlock()
}

func (s *Store) List() []protocol.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) Find(id string) (protocol.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return protocol.Task{}, false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

func (s *Store) Cap() int {
	return s.cap
}

// seedIDsLocked keeps generated ids above every numeric id already held.
func (s *Store) seedIDsLocked() {
	for _, t := range s.tasks {
		if id, err := strconv.ParseInt(t.ID, 10, 64); err == nil && id > s.lastID {
			s.lastID = id
		}
	}
}

func (s *Store) snapshotLocked() []protocol.Task {
	out := make([]protocol.Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// saveLocked is best effort; the in-memory list stays authoritative.
func (s *Store) saveLocked() {
	if s.slot == nil {
		return
	}

	data, err := json.Marshal(s.tasks)
	if err != nil {
		s.log.Error("Failed to encode history", "err", err)
		return
	}
	if err := s.slot.Save(data); err != nil {
		s.log.Error("Failed to save history", "err", err)
	}
}

// MemorySlot keeps the serialized list in memory.
type MemorySlot struct {
	mu   sync.Mutex
	data []byte
	Err  error
}

func (m *MemorySlot) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]byte(nil), m.data...), nil
}

func (m *MemorySlot) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.data = append([]byte(nil), data...)
	return nil
}
