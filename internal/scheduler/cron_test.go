package scheduler

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCron(t *testing.T) *CronScheduler {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewCronScheduler(time.UTC, func(string, time.Time) {}, logger)
}

func TestCronScheduler_AddRemove(t *testing.T) {
	cs := newTestCron(t)

	require.NoError(t, cs.Add("b", "*/5 * * * *"))
	require.NoError(t, cs.Add("a", "@hourly"))
	assert.Error(t, cs.Add("a", "@daily"), "duplicate registration")
	assert.Error(t, cs.Add("c", "0 0 0 * * *"), "six-field expressions are rejected")

	assert.Equal(t, []string{"a", "b"}, cs.Scheduled())

	cs.Remove("a")
	cs.Remove("missing")
	assert.Equal(t, []string{"b"}, cs.Scheduled())
}

func TestCronScheduler_Update(t *testing.T) {
	cs := newTestCron(t)

	require.NoError(t, cs.Update("p", "0 * * * *"))
	schedule, ok := cs.Schedule("p")
	require.True(t, ok)
	assert.Equal(t, "0 * * * *", schedule)

	require.NoError(t, cs.Update("p", "30 2 * * *"))
	schedule, _ = cs.Schedule("p")
	assert.Equal(t, "30 2 * * *", schedule)
	assert.Len(t, cs.cron.Entries(), 1)

	assert.Error(t, cs.Update("p", "bogus"))
	_, ok = cs.Schedule("p")
	assert.False(t, ok, "a failed update leaves the pipeline unscheduled")
}

func TestCronScheduler_NextRun(t *testing.T) {
	cs := newTestCron(t)
	require.NoError(t, cs.Add("p", "30 2 * * *"))

	from := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	next, err := cs.NextRun("p", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC), next)

	_, err = cs.NextRun("missing", from)
	assert.Error(t, err)
}
