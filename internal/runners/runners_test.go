package runners

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockRunner_CreateStartStopRestart(t *testing.T) {
	ctx := context.Background()
	r := NewMockRunner()

	require.NoError(t, r.CreateModule(ctx, ModuleSpec{Name: "signal-router"}))
	status, err := r.GetModuleStatus(ctx, "signal-router")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status.Status)

	require.NoError(t, r.StopModule(ctx, "signal-router"))
	status, err = r.GetModuleStatus(ctx, "signal-router")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, status.Status)

	require.NoError(t, r.RestartModule(ctx, "signal-router"))
	status, err = r.GetModuleStatus(ctx, "signal-router")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status.Status)
}

func TestMockRunner_ListAndDelete(t *testing.T) {
	ctx := context.Background()
	r := NewMockRunner()
	require.NoError(t, r.CreateModule(ctx, ModuleSpec{Name: "capital-loop"}))
	require.NoError(t, r.CreateModule(ctx, ModuleSpec{Name: "failover-monitor"}))

	list, err := r.ListModules(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	require.NoError(t, r.DeleteModule(ctx, "capital-loop"))
	list, err = r.ListModules(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestLocalRunner_SupervisesSubprocess(t *testing.T) {
	ctx := context.Background()
	r := NewLocalRunner()
	defer r.Close()

	err := r.CreateModule(ctx, ModuleSpec{
		Name:  "sleeper",
		Image: "/bin/sleep",
		Args:  []string{"5"},
	})
	require.NoError(t, err)

	status, err := r.GetModuleStatus(ctx, "sleeper")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, status.Status)
	assert.NotEmpty(t, status.InstanceID)

	require.NoError(t, r.StopModule(ctx, "sleeper"))
	status, err = r.GetModuleStatus(ctx, "sleeper")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, status.Status)
}

func TestLocalRunner_UnknownModule(t *testing.T) {
	ctx := context.Background()
	r := NewLocalRunner()
	defer r.Close()
	_, err := r.GetModuleStatus(ctx, "missing")
	assert.Error(t, err)
}

func TestLocalRunner_Type(t *testing.T) {
	r := NewLocalRunner()
	defer r.Close()
	assert.Equal(t, "local", r.Type())
}
