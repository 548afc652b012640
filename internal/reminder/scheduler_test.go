package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/momentum/internal/persistence/memory"
)

func TestNewSchedulerValidatesExpression(t *testing.T) {
	job := NewJob(memory.NewStore(), funcChannel(nil), WithLogger(quietLogger()))

	_, err := NewScheduler(job, "not a schedule", time.UTC, quietLogger())
	require.Error(t, err)

	for _, spec := range []string{"", DefaultSchedule, "@daily", "@every 1h"} {
		s, err := NewScheduler(job, spec, time.UTC, quietLogger())
		require.NoError(t, err, spec)
		s.Start()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.Stop(ctx)
		cancel()
	}
}
