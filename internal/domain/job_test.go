package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToolTypeValid(t *testing.T) {
	for _, tool := range []ToolType{ToolUpscaler, ToolPoseChanger, ToolClothingChanger, ToolVideoGenerator} {
		require.True(t, tool.Valid(), tool)
	}
	require.False(t, ToolType("face_swapper").Valid())
	require.False(t, ToolType("").Valid())
}

func TestJobStatusTerminal(t *testing.T) {
	require.False(t, JobStatusQueued.Terminal())
	require.False(t, JobStatusRunning.Terminal())
	require.True(t, JobStatusCompleted.Terminal())
	require.True(t, JobStatusFailed.Terminal())
	require.True(t, JobStatusCancelled.Terminal())
}

func TestJobActive(t *testing.T) {
	j := &Job{Status: JobStatusQueued}
	require.True(t, j.Active())
	j.Status = JobStatusRunning
	require.True(t, j.Active())
	j.Status = JobStatusCancelled
	require.False(t, j.Active())
}

func TestAsActiveJobUnwrapsThroughWrapping(t *testing.T) {
	inner := &ActiveJobError{Job: &Job{Status: JobStatusRunning}}
	wrapped := fmt.Errorf("submit: %w", inner)

	got, ok := AsActiveJob(wrapped)
	require.True(t, ok)
	require.Same(t, inner.Job, got.Job)

	_, ok = AsActiveJob(errors.New("plain"))
	require.False(t, ok)
}
