package probe

import (
	"bufio"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Event is an upcoming calendar event.
type Event struct {
	Title string
	Start time.Time
}

// CalendarSource returns events starting within the given horizon.
type CalendarSource interface {
	Upcoming(ctx context.Context, within time.Duration) ([]Event, error)
}

// calendarScript prints "<seconds until start>\t<summary>" per event.
const calendarScript = `
set nowD to current date
set horizon to nowD + (%d * minutes)
set out to ""
tell application "Calendar"
	repeat with c in calendars
		set evs to (every event of c whose start date ≥ nowD and start date ≤ horizon)
		repeat with e in evs
			set out to out & (((start date of e) - nowD) as integer) & tab & (summary of e) & linefeed
		end repeat
	end repeat
end tell
return out`

// AppleScriptCalendar asks Calendar.app through osascript. Calendar access
// must be granted; without it the query fails.
type AppleScriptCalendar struct {
	Runner Runner
	Now    func() time.Time
}

// Upcoming implements CalendarSource.
func (c AppleScriptCalendar) Upcoming(ctx context.Context, within time.Duration) ([]Event, error) {
	minutes := int(within.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	out, err := c.Runner.Run(ctx, "osascript", "-e", fmt.Sprintf(calendarScript, minutes))
	if err != nil {
		return nil, errors.Wrap(err, "query calendar")
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return ParseEvents(string(out), now())
}

// ParseEvents parses calendarScript output relative to now, sorted by start.
func ParseEvents(out string, now time.Time) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		secs, title, _ := strings.Cut(line, "\t")
		n, err := strconv.Atoi(strings.TrimSpace(secs))
		if err != nil {
			return nil, errors.Wrapf(err, "parse calendar line %q", line)
		}
		events = append(events, Event{
			Title: strings.TrimSpace(title),
			Start: now.Add(time.Duration(n) * time.Second),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan calendar output")
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}
