// Package source declares the closed set of monitored sources.
//
// The declaration order of Kind is the order in which active sources are
// listed in every published snapshot.
package source

import (
	"fmt"
	"strings"

	"github.com/tiroq/beacon/internal/threshold"
)

// Kind identifies one monitored source.
type Kind int

const (
	ClaudeCode Kind = iota
	Codex
	GeminiCLI
	Aider
	Homebrew
	Xcode
	Cargo
	GoBuild
	Docker
	Spotlight
	TimeMachine
	Installer
	Downloads
	DerivedData
	SystemCPU
	Calendar

	numKinds
)

// Category selects which kind of probe drives a source.
type Category int

const (
	CategoryTerminal     Category = iota // terminal screen pattern match
	CategoryProcessCPU                   // summed CPU of named processes
	CategoryAppRunning                   // any matching app/process alive
	CategoryDownloads                    // in-progress download files
	CategoryFileActivity                 // file-system event rate
	CategorySystemCPU                    // whole machine CPU
	CategoryCalendar                     // time before next event
)

// Numeric reports whether sources of this category produce a raw number that
// goes through a hysteresis Policy. The rest produce booleans.
func (c Category) Numeric() bool {
	switch c {
	case CategoryProcessCPU, CategoryDownloads, CategoryFileActivity, CategorySystemCPU:
		return true
	}
	return false
}

func (c Category) String() string {
	switch c {
	case CategoryTerminal:
		return "terminal"
	case CategoryProcessCPU:
		return "process-cpu"
	case CategoryAppRunning:
		return "app-running"
	case CategoryDownloads:
		return "downloads"
	case CategoryFileActivity:
		return "file-activity"
	case CategorySystemCPU:
		return "system-cpu"
	case CategoryCalendar:
		return "calendar"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Meta is the static description of a Kind.
type Meta struct {
	Slug     string
	Name     string
	Category Category
	Enabled  bool // enabled when the user has no config yet

	Policy threshold.Policy
	Streak threshold.Streak

	Patterns        []string // terminal: regexps matched against recent lines
	ProgressPattern string   // terminal: first capture group parsed as percent
	ProcessNames    []string // process-cpu: exact names, app-running: substrings
	Dirs            []string // downloads / file-activity, "~" expands to $HOME
}

var cpuBuild = threshold.Policy{Low: 15, High: 40}

var metas = [numKinds]Meta{
	ClaudeCode: {
		Slug: "claude-code", Name: "Claude Code", Category: CategoryTerminal, Enabled: true,
		Streak:   threshold.DefaultStreak,
		Patterns: []string{`·\s*esc to interrupt`, `\(esc to interrupt\)`},
	},
	Codex: {
		Slug: "codex", Name: "Codex", Category: CategoryTerminal, Enabled: true,
		Streak:   threshold.DefaultStreak,
		Patterns: []string{`(?i)working \(\d+s\s*•\s*esc to interrupt`},
	},
	GeminiCLI: {
		Slug: "gemini-cli", Name: "Gemini CLI", Category: CategoryTerminal, Enabled: true,
		Streak:   threshold.DefaultStreak,
		Patterns: []string{`(?i)\(esc to cancel`},
	},
	Aider: {
		Slug: "aider", Name: "Aider", Category: CategoryTerminal, Enabled: true,
		Streak:   threshold.Streak{Start: 1, Stop: 2},
		Patterns: []string{`(?i)waiting for [\w./-]+`},
	},
	Homebrew: {
		Slug: "homebrew", Name: "Homebrew", Category: CategoryTerminal, Enabled: true,
		Streak:          threshold.Streak{Start: 1, Stop: 2},
		Patterns:        []string{`^==> (Downloading|Pouring|Installing|Upgrading|Fetching)`},
		ProgressPattern: `(\d{1,3}(?:\.\d+)?)%\s*$`,
	},
	Xcode: {
		Slug: "xcode", Name: "Xcode build", Category: CategoryProcessCPU, Enabled: true,
		Policy:       cpuBuild,
		ProcessNames: []string{"xcodebuild", "XCBBuildService", "swift-frontend", "clang", "ld"},
	},
	Cargo: {
		Slug: "cargo", Name: "Cargo build", Category: CategoryProcessCPU, Enabled: true,
		Policy:       cpuBuild,
		ProcessNames: []string{"rustc", "cargo", "build-script-build"},
	},
	GoBuild: {
		Slug: "go-build", Name: "Go build", Category: CategoryProcessCPU, Enabled: true,
		Policy:       cpuBuild,
		ProcessNames: []string{"compile", "link", "asm", "cgo"},
	},
	Docker: {
		Slug: "docker", Name: "Docker", Category: CategoryProcessCPU, Enabled: true,
		Policy:       threshold.Policy{Low: 20, High: 60},
		ProcessNames: []string{"com.docker.backend", "com.docker.virtualization", "qemu-system-aarch64", "buildkitd"},
	},
	Spotlight: {
		Slug: "spotlight", Name: "Spotlight indexing", Category: CategoryProcessCPU,
		Policy:       threshold.Policy{Low: 20, High: 50},
		ProcessNames: []string{"mds_stores", "mdworker_shared", "mds"},
	},
	TimeMachine: {
		Slug: "time-machine", Name: "Time Machine", Category: CategoryProcessCPU,
		Policy:       threshold.Policy{Low: 5, High: 15},
		ProcessNames: []string{"backupd"},
	},
	Installer: {
		Slug: "installer", Name: "Installer", Category: CategoryAppRunning, Enabled: true,
		Streak:       threshold.DefaultStreak,
		ProcessNames: []string{"com.apple.installer", "Installer"},
	},
	Downloads: {
		Slug: "downloads", Name: "Downloads", Category: CategoryDownloads, Enabled: true,
		Policy: threshold.Policy{Low: 0.5, High: 0.5},
		Dirs:   []string{"~/Downloads"},
	},
	DerivedData: {
		Slug: "derived-data", Name: "DerivedData writes", Category: CategoryFileActivity,
		Policy: threshold.Policy{Low: 1, High: 10},
		Dirs:   []string{"~/Library/Developer/Xcode/DerivedData"},
	},
	SystemCPU: {
		Slug: "system-cpu", Name: "System CPU", Category: CategorySystemCPU,
		Policy: threshold.Policy{Low: 40, High: 75},
	},
	Calendar: {
		Slug: "calendar", Name: "Calendar", Category: CategoryCalendar,
		Streak: threshold.DefaultStreak,
	},
}

// All returns every kind in declaration order.
func All() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out = append(out, k)
	}
	return out
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= 0 && k < numKinds
}

// Meta returns the static metadata for k. Slices are copied so callers may
// modify the result.
func (k Kind) Meta() Meta {
	if !k.Valid() {
		return Meta{Slug: k.String()}
	}
	m := metas[k]
	m.Patterns = append([]string(nil), m.Patterns...)
	m.ProcessNames = append([]string(nil), m.ProcessNames...)
	m.Dirs = append([]string(nil), m.Dirs...)
	return m
}

// Category is shorthand for k.Meta().Category.
func (k Kind) Category() Category {
	if !k.Valid() {
		return -1
	}
	return metas[k].Category
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return metas[k].Slug
}

// Parse resolves a slug (case-insensitive) to its Kind.
func Parse(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k := Kind(0); k < numKinds; k++ {
		if metas[k].Slug == s {
			return k, nil
		}
	}
	return -1, fmt.Errorf("unknown source %q", s)
}

// ParseList parses a comma separated list of slugs.
func ParseList(s string) ([]Kind, error) {
	var out []Kind
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		k, err := Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

// MarshalText encodes k as its slug.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid source kind %d", int(k))
	}
	return []byte(metas[k].Slug), nil
}

// UnmarshalText decodes a slug.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
