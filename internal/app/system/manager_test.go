package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingService struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(context.Context) error {
	*s.log = append(*s.log, "start "+s.name)
	return s.startErr
}

func (s *recordingService) Stop(context.Context) error {
	*s.log = append(*s.log, "stop "+s.name)
	return s.stopErr
}

func TestManagerOrdersLifecycle(t *testing.T) {
	var log []string
	m := NewManager(nil)
	require.NoError(t, m.Register(&recordingService{name: "a", log: &log}))
	require.NoError(t, m.Register(&recordingService{name: "b", log: &log}))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
	assert.Equal(t, []string{"a", "b"}, m.Services())
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	m := NewManager(nil)
	require.NoError(t, m.Register(&recordingService{name: "a", log: &log}))
	require.NoError(t, m.Register(&recordingService{name: "b", startErr: boom, log: &log}))
	require.NoError(t, m.Register(&recordingService{name: "c", log: &log}))

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}

func TestManagerJoinsStopErrors(t *testing.T) {
	var log []string
	first, second := errors.New("first"), errors.New("second")
	m := NewManager(nil)
	require.NoError(t, m.Register(&recordingService{name: "a", stopErr: first, log: &log}))
	require.NoError(t, m.Register(&recordingService{name: "b", stopErr: second, log: &log}))

	assert.NoError(t, m.Start(context.Background()))
	err := m.Stop(context.Background())
	assert.ErrorIs(t, err, first)
	assert.ErrorIs(t, err, second)
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var log []string
	m := NewManager(nil)
	require.NoError(t, m.Register(&recordingService{name: "a", log: &log}))
	err := m.Register(&recordingService{name: "a", log: &log})
	assert.ErrorIs(t, err, ErrDuplicateService)
	assert.Error(t, m.Register(nil))
}
