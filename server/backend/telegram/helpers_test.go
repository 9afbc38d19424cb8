package telegram

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/mattermost/mattermost-raid-relay/server/backend"
)

const testChatID int64 = -1001766138888

// memoryStore is an in-memory backend.KVStore.
type memoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string][]byte)}
}

func (m *memoryStore) KVGet(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryStore) KVSet(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) KVDelete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// mockKVStore is a testify mock of backend.KVStore.
type mockKVStore struct {
	mock.Mock
}

func (m *mockKVStore) KVGet(key string) ([]byte, error) {
	args := m.Called(key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *mockKVStore) KVSet(key string, value []byte) error {
	return m.Called(key, value).Error(0)
}

func (m *mockKVStore) KVDelete(key string) error {
	return m.Called(key).Error(0)
}

// recordingHandler collects submitted events.
type recordingHandler struct {
	mu     sync.Mutex
	events []backend.Event
}

func (h *recordingHandler) Submit(event backend.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
}

func (h *recordingHandler) Events() []backend.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]backend.Event(nil), h.events...)
}

// mockDeduplicator tracks seen events in memory.
type mockDeduplicator struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMockDeduplicator() *mockDeduplicator {
	return &mockDeduplicator{seen: make(map[string]bool)}
}

func (d *mockDeduplicator) RecordEvent(backendType, eventID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := backendType + ":" + eventID
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

// fetchCall is one recorded FetchUpdates call.
type fetchCall struct {
	offset  int64
	timeout time.Duration
}

// scriptedFetcher answers FetchUpdates from a queue of responses.
type scriptedFetcher struct {
	mu        sync.Mutex
	calls     []fetchCall
	responses []fetchResponse
}

type fetchResponse struct {
	updates []Update
	err     error
}

func (f *scriptedFetcher) FetchUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fetchCall{offset: offset, timeout: timeout})
	if len(f.responses) == 0 {
		return nil, nil
	}
	response := f.responses[0]
	f.responses = f.responses[1:]
	return response.updates, response.err
}

func (f *scriptedFetcher) Calls() []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fetchCall(nil), f.calls...)
}

// manualScheduler records the scheduled job without running it; tests drive run() directly.
type manualScheduler struct {
	mu        sync.Mutex
	scheduled []string
	closed    int
}

func (s *manualScheduler) Schedule(jobID string, nextWaitInterval NextWaitInterval, callback func()) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled = append(s.scheduled, jobID)
	return &manualJob{scheduler: s}, nil
}

func (s *manualScheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.scheduled...)
}

type manualJob struct {
	scheduler *manualScheduler
}

func (j *manualJob) Close() error {
	j.scheduler.mu.Lock()
	defer j.scheduler.mu.Unlock()
	j.scheduler.closed++
	return nil
}

func channelPost(updateID, messageID int64, chatID int64, text string) Update {
	return Update{
		UpdateID: updateID,
		ChannelPost: &Message{
			MessageID: messageID,
			Date:      1665379800, // 2022-10-10 05:30:00 UTC
			Chat:      Chat{ID: chatID, Type: "channel", Title: "Повітряна тривога"},
			Text:      text,
		},
	}
}
