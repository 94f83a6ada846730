package tools

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreaker_ClosedUntilThreshold(t *testing.T) {
	b := newBreaker(time.Minute)
	now := time.Now()

	for i := 0; i < breakerFailureThreshold-1; i++ {
		assert.True(t, b.Allow(now))
		b.RecordFailure(now, "upstream error")
	}
	assert.True(t, b.Allow(now), "stays closed below the threshold")
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker(time.Minute)
	now := time.Now()

	for i := 0; i < breakerFailureThreshold; i++ {
		b.RecordFailure(now, "upstream error")
	}
	assert.False(t, b.Allow(now))
	assert.False(t, b.Allow(now.Add(30*time.Second)), "still cooling down")
	assert.Equal(t, "upstream error", b.LastError())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newBreaker(time.Minute)
	now := time.Now()

	b.RecordFailure(now, "e1")
	b.RecordFailure(now, "e2")
	b.RecordSuccess()
	b.RecordFailure(now, "e3")
	b.RecordFailure(now, "e4")
	assert.True(t, b.Allow(now), "success interrupts the consecutive streak")
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b := newBreaker(time.Minute)
	now := time.Now()

	for i := 0; i < breakerFailureThreshold; i++ {
		b.RecordFailure(now, "down")
	}
	after := now.Add(61 * time.Second)
	assert.True(t, b.Allow(after), "cooldown elapsed admits one probe")
	assert.False(t, b.Allow(after), "second concurrent call is rejected while the probe runs")
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b := newBreaker(time.Minute)
	now := time.Now()

	for i := 0; i < breakerFailureThreshold; i++ {
		b.RecordFailure(now, "down")
	}
	after := now.Add(2 * time.Minute)
	assert.True(t, b.Allow(after))
	b.RecordSuccess()

	assert.True(t, b.Allow(after))
	assert.True(t, b.Allow(after), "closed again, no probe gating")
	assert.Empty(t, b.LastError())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := newBreaker(time.Minute)
	now := time.Now()

	for i := 0; i < breakerFailureThreshold; i++ {
		b.RecordFailure(now, "down")
	}
	probeAt := now.Add(2 * time.Minute)
	assert.True(t, b.Allow(probeAt))
	b.RecordFailure(probeAt, "still down")

	assert.False(t, b.Allow(probeAt.Add(time.Second)), "reopened immediately")
	assert.True(t, b.Allow(probeAt.Add(61*time.Second)), "new cooldown runs from the probe failure")
}

func TestBreakerSet_IsolatesTools(t *testing.T) {
	set := newBreakerSet(time.Minute)
	now := time.Now()

	a := set.forTool("srv.alpha")
	for i := 0; i < breakerFailureThreshold; i++ {
		a.RecordFailure(now, "down")
	}
	assert.False(t, a.Allow(now))
	assert.True(t, set.forTool("srv.beta").Allow(now), "other tools unaffected")
	assert.Same(t, a, set.forTool("srv.alpha"), "same breaker returned per tool")
}
