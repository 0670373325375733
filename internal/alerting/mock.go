package alerting

import (
	"context"
	"strings"
	"sync"
)

// MockAlerter captures alerts in memory so tests can assert on what the
// engine escalated. Safe for concurrent use.
type MockAlerter struct {
	mu       sync.Mutex
	captured []capturedAlert
}

type capturedAlert struct {
	severity Severity
	message  string
}

// NewMockAlerter creates an empty capturing alerter.
func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

// Name returns the name of the alerter.
func (m *MockAlerter) Name() string {
	return "mock"
}

// Alert records the severity and message for later assertions.
func (m *MockAlerter) Alert(_ context.Context, severity Severity, message string, _ ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captured = append(m.captured, capturedAlert{severity: severity, message: message})
	return nil
}

// Count returns how many alerts were captured.
func (m *MockAlerter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captured)
}

// HasAlertWithSeverity reports whether any captured alert carries severity.
func (m *MockAlerter) HasAlertWithSeverity(severity Severity) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.captured {
		if a.severity == severity {
			return true
		}
	}
	return false
}

// HasAlertContaining reports whether any captured alert message contains substr.
func (m *MockAlerter) HasAlertContaining(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.captured {
		if strings.Contains(a.message, substr) {
			return true
		}
	}
	return false
}
