package archive

import (
	"context"
	"sync"
	"time"

	"github.com/spigell/network-scout/internal/domain"
)

// Memory is an in-process Backend for tests and local runs.
type Memory struct {
	mu      sync.Mutex
	logs    map[string][]domain.Message
	seen    map[string]time.Time
	offsets map[string]string
	userIDs map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		logs:    make(map[string][]domain.Message),
		seen:    make(map[string]time.Time),
		offsets: make(map[string]string),
		userIDs: make(map[string]string),
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) Append(_ context.Context, platformID string, msg domain.Message) (domain.Message, error) {
	msg = stamp(msg)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[platformID] = append(m.logs[platformID], msg)
	return msg, nil
}

func (m *Memory) Recent(_ context.Context, platformID string, n int) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log := m.logs[platformID]
	if n <= 0 {
		return nil, nil
	}
	if n < len(log) {
		log = log[len(log)-n:]
	}
	return append([]domain.Message(nil), log...), nil
}

func (m *Memory) All(_ context.Context, platformID string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Message(nil), m.logs[platformID]...), nil
}

func (m *Memory) Seen(_ context.Context, key string, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := now()
	if expires, ok := m.seen[key]; ok && (window <= 0 || t.Before(expires)) {
		return true, nil
	}
	m.seen[key] = t.Add(window)
	return false, nil
}

func (m *Memory) Offset(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets[name], nil
}

func (m *Memory) SetOffset(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[name] = value
	return nil
}

func (m *Memory) UserID(_ context.Context, handle string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.userIDs[cacheHandle(handle)]
	return id, ok, nil
}

func (m *Memory) SetUserID(_ context.Context, handle, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userIDs[cacheHandle(handle)] = id
	return nil
}
