package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lightforgemedia/go-mcremote/pkg/broker"
)

// WaitForSessions waits until the broker has exactly n connected sessions.
func WaitForSessions(t *testing.T, b *broker.Broker, n int, timeout time.Duration) error {
	t.Helper()
	err := WaitFor(t, fmt.Sprintf("%d sessions", n), timeout, func() bool { return b.Sessions() == n })
	if err != nil {
		var ids []string
		b.IterateSessions(func(s broker.Session) bool {
			ids = append(ids, s.ID())
			return true
		})
		t.Logf("WaitForSessions: connected sessions: %v", ids)
	}
	return err
}

// WaitFor is a generic utility to wait for a condition to be true.
// It returns nil if the condition becomes true within the timeout.
// It returns an error if the condition does not become true within the timeout.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	if condition() {
		return nil
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}

// WaitForWithContext is WaitFor bounded by ctx instead of a timeout.
func WaitForWithContext(ctx context.Context, t *testing.T, description string, condition func() bool) error {
	t.Helper()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled while waiting for condition '%s': %v", description, ctx.Err())
		case <-ticker.C:
		}
	}
}
