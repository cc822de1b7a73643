package domain

import (
	"errors"
	"testing"
	"time"
)

func TestJobTransitionsOnlyForward(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	job := Job{ID: "job-1", Status: JobQueued}

	if err := job.Transition(JobRunning, now); err != nil {
		t.Fatalf("queued -> running: %v", err)
	}
	if err := job.Transition(JobDone, now); err != nil {
		t.Fatalf("running -> done: %v", err)
	}
	if job.Status != JobDone || !job.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected job state: %+v", job)
	}

	err := job.Transition(JobRunning, now.Add(time.Minute))
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("done -> running: expected ErrInvalidTransition, got %v", err)
	}
	if job.Status != JobDone {
		t.Fatalf("status changed after rejected transition: %s", job.Status)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobQueued, JobRunning, true},
		{JobQueued, JobError, true},
		{JobQueued, JobDone, false},
		{JobRunning, JobDone, true},
		{JobRunning, JobError, true},
		{JobRunning, JobQueued, false},
		{JobDone, JobRunning, false},
		{JobDone, JobError, false},
		{JobError, JobRunning, false},
		{JobRunning, JobRunning, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if JobQueued.Terminal() || JobRunning.Terminal() || !JobDone.Terminal() || !JobError.Terminal() {
		t.Fatal("job terminal states wrong")
	}
	if SourcePending.Terminal() || SourceRunning.Terminal() || !SourceDone.Terminal() || !SourceError.Terminal() {
		t.Fatal("source terminal states wrong")
	}
}

func TestEffectiveTimeAndDigestStatus(t *testing.T) {
	fetched := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	item := Item{FetchedAt: fetched}
	if !item.EffectiveTime().Equal(fetched) {
		t.Fatalf("expected fetched_at fallback")
	}
	published := fetched.Add(-time.Hour)
	item.PublishedAt = &published
	if !item.EffectiveTime().Equal(published) {
		t.Fatalf("expected published_at")
	}

	if StatusForCount(0, 5) != DigestEmpty || StatusForCount(3, 5) != DigestPartial || StatusForCount(5, 5) != DigestReady {
		t.Fatal("unexpected digest status mapping")
	}
	if KindHTML.MinBodyLength() != 150 || KindRSS.MinBodyLength() != 80 || KindExport.MinBodyLength() != 80 {
		t.Fatal("unexpected body minimums")
	}
}
