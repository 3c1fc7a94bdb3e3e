package probe

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvents(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := "600\tPlanning\n\n120\tStandup\n"

	events, err := ParseEvents(out, now)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Standup", events[0].Title)
	assert.Equal(t, now.Add(2*time.Minute), events[0].Start)
	assert.Equal(t, "Planning", events[1].Title)

	_, err = ParseEvents("soon\tBroken", now)
	assert.Error(t, err)
}

func TestAppleScriptCalendar(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var script string
	cal := AppleScriptCalendar{
		Runner: RunnerFunc(func(ctx context.Context, name string, args ...string) ([]byte, error) {
			script = args[len(args)-1]
			return []byte("60\tReview\n"), nil
		}),
		Now: func() time.Time { return now },
	}

	events, err := cal.Upcoming(context.Background(), 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now.Add(time.Minute), events[0].Start)
	assert.True(t, strings.Contains(script, "(15 * minutes)"))
}
