package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{SessionPending, SessionActive, true},
		{SessionPending, SessionTerminated, true},
		{SessionPending, SessionExpired, false},
		{SessionPending, SessionSuspended, false},

		{SessionActive, SessionSuspended, true},
		{SessionActive, SessionExpired, true},
		{SessionActive, SessionTerminated, true},
		{SessionActive, SessionPending, false},

		{SessionSuspended, SessionActive, true},
		{SessionSuspended, SessionTerminated, true},
		{SessionSuspended, SessionExpired, false},

		{SessionExpired, SessionActive, false},
		{SessionExpired, SessionTerminated, false},
		{SessionTerminated, SessionActive, false},
		{SessionTerminated, SessionExpired, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSessionStatusIsTerminal(t *testing.T) {
	assert.False(t, SessionPending.IsTerminal())
	assert.False(t, SessionActive.IsTerminal())
	assert.False(t, SessionSuspended.IsTerminal())
	assert.True(t, SessionExpired.IsTerminal())
	assert.True(t, SessionTerminated.IsTerminal())
}

func TestTimeRemaining(t *testing.T) {
	now := time.Now()
	sess := &Session{ExpiresAt: now.Add(30 * time.Minute)}

	assert.Equal(t, 30*time.Minute, sess.TimeRemaining(now))
	assert.Equal(t, time.Duration(0), sess.TimeRemaining(now.Add(time.Hour)))
	assert.Equal(t, time.Duration(0), sess.TimeRemaining(sess.ExpiresAt))
}
