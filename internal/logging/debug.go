package logging

import (
	"os"
	"strings"

	"github.com/tiroq/beacon/internal/source"
)

// EnvDebugSources lists the sources whose evaluations are logged, as a
// comma separated list of slugs or "all".
const EnvDebugSources = "BEACON_DEBUG_SOURCES"

// DebugSet is the set of sources with debug logging on.
type DebugSet struct {
	all   bool
	kinds map[source.Kind]bool
}

// ParseDebugSources parses the EnvDebugSources syntax.
func ParseDebugSources(s string) (DebugSet, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "":
		return DebugSet{}, nil
	case "all", "*", "1", "true":
		return DebugSet{all: true}, nil
	}
	kinds, err := source.ParseList(s)
	if err != nil {
		return DebugSet{}, err
	}
	set := DebugSet{kinds: make(map[source.Kind]bool, len(kinds))}
	for _, k := range kinds {
		set.kinds[k] = true
	}
	return set, nil
}

// DebugFromEnv reads EnvDebugSources. An invalid value is reported along
// with an empty set.
func DebugFromEnv() (DebugSet, error) {
	return ParseDebugSources(os.Getenv(EnvDebugSources))
}

// Has reports whether kind has debug logging on.
func (d DebugSet) Has(kind source.Kind) bool {
	return d.all || d.kinds[kind]
}

// Empty reports whether no source is selected.
func (d DebugSet) Empty() bool {
	return !d.all && len(d.kinds) == 0
}

func (d DebugSet) String() string {
	if d.all {
		return "all"
	}
	var names []string
	for _, k := range source.All() {
		if d.kinds[k] {
			names = append(names, k.String())
		}
	}
	return strings.Join(names, ",")
}
