package jobs

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExpirer struct {
	mock.Mock
}

func (m *mockExpirer) ExpireStalePayments(ctx context.Context, maxAge time.Duration) (int, error) {
	args := m.Called(ctx, maxAge)
	return args.Int(0), args.Error(1)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewScheduler_RegistersExpiryJob(t *testing.T) {
	js, err := NewScheduler(new(mockExpirer), 15*time.Minute, time.Minute, quietLogger())
	require.NoError(t, err)

	jobs := js.scheduler.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, expireJobName, jobs[0].Name())
}

func TestExpirePayments_UsesConfiguredExpiry(t *testing.T) {
	m := new(mockExpirer)
	m.On("ExpireStalePayments", mock.Anything, 15*time.Minute).Return(3, nil).Once()

	js, err := NewScheduler(m, 15*time.Minute, time.Minute, quietLogger())
	require.NoError(t, err)

	js.expirePayments()

	m.AssertExpectations(t)
}

func TestExpirePayments_ErrorIsLogged(t *testing.T) {
	m := new(mockExpirer)
	m.On("ExpireStalePayments", mock.Anything, mock.Anything).Return(0, errors.New("db down")).Once()

	js, err := NewScheduler(m, time.Minute, time.Minute, quietLogger())
	require.NoError(t, err)

	assert.NotPanics(t, js.expirePayments)
	m.AssertExpectations(t)
}
