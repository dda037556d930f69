package domain

import (
	"testing"
	"time"
)

func TestContextSessionExpiresIn(t *testing.T) {
	t.Parallel()

	fresh := &ContextSession{LastSeenAt: time.Now()}
	if got := fresh.ExpiresIn(time.Hour); got <= 59*time.Minute {
		t.Fatalf("ExpiresIn = %v, want close to 1h", got)
	}

	stale := &ContextSession{LastSeenAt: time.Now().Add(-2 * time.Hour)}
	if got := stale.ExpiresIn(time.Hour); got != 0 {
		t.Fatalf("ExpiresIn = %v, want 0", got)
	}
}

func TestEpisodeRecordSucceeded(t *testing.T) {
	t.Parallel()

	if (&EpisodeRecord{Reward: 0}).Succeeded() {
		t.Fatal("zero reward is not a success")
	}
	if !(&EpisodeRecord{Reward: 1}).Succeeded() {
		t.Fatal("positive reward is a success")
	}
}
