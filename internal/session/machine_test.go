package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thebtf/supportdesk/pkg/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from models.SessionStatus
		to   models.SessionStatus
		want bool
	}{
		{models.StatusOffline, models.StatusOnline, true},
		{models.StatusOnline, models.StatusWaiting, true},
		{models.StatusOnline, models.StatusActive, true},
		{models.StatusWaiting, models.StatusActive, true},
		{models.StatusActive, models.StatusCompleted, true},
		{models.StatusWaiting, models.StatusCompleted, true},
		{models.StatusActive, models.StatusDisconnected, true},
		{models.StatusDisconnected, models.StatusOnline, true},
		{models.StatusOffline, models.StatusWaiting, false},
		{models.StatusWaiting, models.StatusWaiting, false},
		{models.StatusActive, models.StatusWaiting, false},
		{models.StatusCompleted, models.StatusOnline, false},
		{models.StatusCompleted, models.StatusActive, false},
		{models.StatusDisconnected, models.StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	for _, to := range []models.SessionStatus{
		models.StatusOffline, models.StatusOnline, models.StatusWaiting,
		models.StatusActive, models.StatusDisconnected, models.StatusCompleted,
	} {
		assert.False(t, CanTransition(models.StatusCompleted, to), to)
	}
}

func TestCheckTransition(t *testing.T) {
	rec := &models.SessionRecord{Status: models.StatusWaiting}

	err := checkTransition("request staff", rec, models.StatusWaiting)
	var stateErr *StateError
	assert.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.StatusWaiting, stateErr.From)
	assert.Equal(t, "request staff: not allowed while session is Waiting", err.Error())

	assert.NoError(t, checkTransition("claim", rec, models.StatusActive))
}

func TestCanClaim(t *testing.T) {
	tests := []struct {
		status models.SessionStatus
		want   bool
	}{
		{models.StatusOnline, true},
		{models.StatusWaiting, true},
		{models.StatusOffline, false},
		{models.StatusDisconnected, false},
		{models.StatusActive, false},
		{models.StatusCompleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, CanClaim(tt.status))
		})
	}
}

func TestNewSessionID(t *testing.T) {
	at := time.Date(2024, 3, 1, 21, 5, 9, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, "LM1234_SESSION_20240301120509", NewSessionID("LM1234", at))
}
