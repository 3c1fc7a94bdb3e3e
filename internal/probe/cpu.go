package probe

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sync/singleflight"
)

// ProcessTimes is one row of a process table sample.
type ProcessTimes struct {
	PID     int32
	Name    string
	CPUTime float64 // user+system seconds since process start
}

// ProcessUsage is the CPU share of one process between two samples.
type ProcessUsage struct {
	PID     int32
	Name    string
	Percent float64 // 100 == one full core
}

// ListProcesses reads the process table with gopsutil. Processes that vanish
// or deny access mid-scan are skipped.
func ListProcesses(ctx context.Context) ([]ProcessTimes, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list processes")
	}
	out := make([]ProcessTimes, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		out = append(out, ProcessTimes{PID: p.Pid, Name: name, CPUTime: times.User + times.System})
	}
	return out, nil
}

// CPUSampler derives per-process CPU percentages from the difference between
// consecutive process table scans. A scan is shared by every caller that asks
// within MinInterval, so several CPU detectors polling on the same tick cost
// one scan.
type CPUSampler struct {
	List        func(ctx context.Context) ([]ProcessTimes, error)
	Now         func() time.Time
	MinInterval time.Duration

	group singleflight.Group

	mu     sync.Mutex
	prev   map[int32]float64
	prevAt time.Time
	usage  []ProcessUsage
}

// NewCPUSampler returns a sampler backed by gopsutil.
func NewCPUSampler(minInterval time.Duration) *CPUSampler {
	return &CPUSampler{List: ListProcesses, Now: time.Now, MinInterval: minInterval}
}

// Sample returns per-process usage since the previous scan. The very first
// scan has no baseline and reports zero for every process.
func (s *CPUSampler) Sample(ctx context.Context) ([]ProcessUsage, error) {
	s.mu.Lock()
	if !s.prevAt.IsZero() && s.Now().Sub(s.prevAt) < s.MinInterval {
		usage := s.usage
		s.mu.Unlock()
		return usage, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("sample", func() (interface{}, error) {
		rows, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		now := s.Now()

		s.mu.Lock()
		defer s.mu.Unlock()

		elapsed := now.Sub(s.prevAt).Seconds()
		next := make(map[int32]float64, len(rows))
		usage := make([]ProcessUsage, 0, len(rows))
		for _, r := range rows {
			next[r.PID] = r.CPUTime
			u := ProcessUsage{PID: r.PID, Name: r.Name}
			if before, ok := s.prev[r.PID]; ok && elapsed > 0 && r.CPUTime >= before {
				u.Percent = (r.CPUTime - before) / elapsed * 100
			}
			usage = append(usage, u)
		}
		s.prev = next
		s.prevAt = now
		s.usage = usage
		return usage, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ProcessUsage), nil
}

// Usage sums the CPU percent of processes whose name equals one of names
// (case-insensitive).
func (s *CPUSampler) Usage(ctx context.Context, names []string) (float64, error) {
	usage, err := s.Sample(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, u := range usage {
		for _, n := range names {
			if strings.EqualFold(u.Name, n) {
				total += u.Percent
				break
			}
		}
	}
	return total, nil
}

// SystemCPU returns whole-machine CPU percent since the previous call.
func SystemCPU(ctx context.Context) (float64, error) {
	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, errors.Wrap(err, "system cpu")
	}
	if len(pct) == 0 {
		return 0, errors.New("system cpu: no data")
	}
	return pct[0], nil
}
