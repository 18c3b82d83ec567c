package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yih5025/investment-assistant-backend-sub000/pkg/models"
)

// MockSession simulates a connected streaming session
type MockSession struct {
	IDVal      string
	SymbolVal  string
	Sent       [][]byte
	RejectSend bool
	Closed     bool
	Mu         sync.Mutex
}

func NewMockSession(id string) *MockSession {
	return &MockSession{IDVal: id}
}

func (m *MockSession) ID() string     { return m.IDVal }
func (m *MockSession) Symbol() string { return m.SymbolVal }

func (m *MockSession) TrySend(msg []byte) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.RejectSend {
		return false
	}
	m.Sent = append(m.Sent, msg)
	return true
}

func (m *MockSession) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockSession) SentCount() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Sent)
}

func (m *MockSession) LastSent() []byte {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Sent) == 0 {
		return nil
	}
	return m.Sent[len(m.Sent)-1]
}

// MockCache simulates the hot cache
type MockCache struct {
	Snapshots []models.Snapshot
	Err       error
	Calls     int
	Mu        sync.Mutex
}

func (m *MockCache) Latest(ctx context.Context, dataset string, limit int) ([]models.Snapshot, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Snapshots, nil
}

func (m *MockCache) Close() error { return nil }

// CloseRequest records one PreviousCloses call for assertion
type CloseRequest struct {
	Dataset string
	Symbols []string
	From    time.Time
	To      time.Time
}

// MockStore simulates the persistent store. ClosesByCall is consumed one
// entry per PreviousCloses call, letting tests script the widened retry.
type MockStore struct {
	Snapshots    []models.Snapshot
	LatestErr    error
	ClosesByCall []map[string]float64
	ClosesErr    error
	Requests     []CloseRequest
	LatestCalls  int
	Mu           sync.Mutex
}

func (m *MockStore) Latest(ctx context.Context, dataset string, limit int) ([]models.Snapshot, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.LatestCalls++
	if m.LatestErr != nil {
		return nil, m.LatestErr
	}
	return m.Snapshots, nil
}

func (m *MockStore) PreviousCloses(ctx context.Context, dataset string, symbols []string, from, to time.Time) (map[string]float64, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Requests = append(m.Requests, CloseRequest{Dataset: dataset, Symbols: symbols, From: from, To: to})
	if m.ClosesErr != nil {
		return nil, m.ClosesErr
	}
	if len(m.ClosesByCall) == 0 {
		return map[string]float64{}, nil
	}
	next := m.ClosesByCall[0]
	m.ClosesByCall = m.ClosesByCall[1:]
	return next, nil
}

// MockSignals feeds scripted refresh signals through the SignalSource shape
type MockSignals struct {
	C chan string
}

func NewMockSignals() *MockSignals {
	return &MockSignals{C: make(chan string, 16)}
}

func (m *MockSignals) Run(ctx context.Context, onSignal func(channel string)) error {
	for {
		select {
		case ch := <-m.C:
			onSignal(ch)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *MockSignals) Close() error { return nil }

func AssertTrue(t *testing.T, condition bool, msg string) {
	if !condition {
		t.Errorf("Assertion failed: %s", msg)
	}
}
