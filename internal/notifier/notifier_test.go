package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/krittin/examscan/internal/domain"
	"github.com/krittin/examscan/internal/testutil"
)

// captureSend swaps the send hook for the test's lifetime and records
// every call.
type sentAlert struct {
	url     string
	message string
}

func captureSend(t *testing.T) *[]sentAlert {
	t.Helper()
	var sent []sentAlert
	orig := send
	send = func(url, message string) error {
		sent = append(sent, sentAlert{url: url, message: message})
		return nil
	}
	t.Cleanup(func() { send = orig })
	return &sent
}

func TestNotifier_AlertsOnFailure(t *testing.T) {
	sent := captureSend(t)
	bus := testutil.NewMockBus()

	n := NewNotifier(bus, []string{"discord://token@channel", "telegram://token@chat"})
	n.Start()

	bus.Publish(domain.NewJobFailedEvent("user-a", "job-1", "scan timed out"))

	if len(*sent) != 2 {
		t.Fatalf("sent %d alerts, want one per target", len(*sent))
	}
	if (*sent)[0].url != "discord://token@channel" {
		t.Errorf("first target = %q", (*sent)[0].url)
	}
	msg := (*sent)[0].message
	if !strings.Contains(msg, "job-1") || !strings.Contains(msg, "scan timed out") {
		t.Errorf("message = %q", msg)
	}
}

func TestNotifier_IgnoresSuccessfulJobs(t *testing.T) {
	sent := captureSend(t)
	bus := testutil.NewMockBus()

	NewNotifier(bus, []string{"discord://token@channel"}).Start()

	bus.Publish(domain.NewJobCompletedEvent("user-a", "job-1", []domain.ScannedAnswer{{ID: "a1"}}))

	if len(*sent) != 0 {
		t.Errorf("sent %d alerts for a successful job, want 0", len(*sent))
	}
}

func TestNotifier_ThrottlesRepeatFailures(t *testing.T) {
	sent := captureSend(t)
	bus := testutil.NewMockBus()

	n := NewNotifier(bus, []string{"discord://token@channel"})
	n.Start()

	bus.Publish(domain.NewJobFailedEvent("user-a", "job-1", "boom"))
	bus.Publish(domain.NewJobFailedEvent("user-a", "job-2", "boom"))

	if len(*sent) != 1 {
		t.Fatalf("sent %d alerts, want the burst collapsed to 1", len(*sent))
	}

	// A different user is not throttled by user-a's alert.
	bus.Publish(domain.NewJobFailedEvent("user-b", "job-3", "boom"))
	if len(*sent) != 2 {
		t.Errorf("sent %d alerts, want 2", len(*sent))
	}

	// Once the window has passed, user-a alerts again.
	n.mu.Lock()
	n.lastSent["user-a"] = time.Now().Add(-throttleWindow - time.Second)
	n.mu.Unlock()

	bus.Publish(domain.NewJobFailedEvent("user-a", "job-4", "boom"))
	if len(*sent) != 3 {
		t.Errorf("sent %d alerts, want 3", len(*sent))
	}
}

func TestNotifier_DisabledWithoutTargets(t *testing.T) {
	sent := captureSend(t)
	bus := testutil.NewMockBus()

	NewNotifier(bus, nil).Start()

	bus.Publish(domain.NewJobFailedEvent("user-a", "job-1", "boom"))

	if len(*sent) != 0 {
		t.Errorf("sent %d alerts with no targets, want 0", len(*sent))
	}
}
