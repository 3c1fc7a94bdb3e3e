package source

import (
	"encoding/json"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllInDeclarationOrder(t *testing.T) {
	all := All()
	require.Len(t, all, int(numKinds))
	for i, k := range all {
		assert.Equal(t, Kind(i), k)
	}
	assert.Equal(t, ClaudeCode, all[0])
	assert.Equal(t, Calendar, all[len(all)-1])
}

func TestSnapshotOrderSlugs(t *testing.T) {
	want := []string{
		"claude-code", "codex", "gemini-cli", "aider", "homebrew",
		"xcode", "cargo", "go-build", "docker",
		"spotlight", "time-machine",
		"installer",
		"downloads",
		"derived-data",
		"system-cpu",
		"calendar",
	}
	var got []string
	for _, k := range All() {
		got = append(got, k.String())
	}
	assert.Equal(t, want, got)
	assert.Equal(t, CategoryTerminal, Homebrew.Category())
	assert.Equal(t, CategoryAppRunning, Installer.Category())
}

func TestParseRoundTrip(t *testing.T) {
	for _, k := range All() {
		parsed, err := Parse(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	k, err := Parse("  Claude-Code ")
	require.NoError(t, err)
	assert.Equal(t, ClaudeCode, k)

	_, err = Parse("nope")
	assert.Error(t, err)
}

func TestParseList(t *testing.T) {
	kinds, err := ParseList("xcode, claude-code,,downloads")
	require.NoError(t, err)
	assert.Equal(t, []Kind{Xcode, ClaudeCode, Downloads}, kinds)

	_, err = ParseList("xcode,bogus")
	assert.Error(t, err)
}

func TestKindJSONMapKeys(t *testing.T) {
	in := map[Kind]float64{Homebrew: 0.5, Xcode: 1}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"homebrew":0.5,"xcode":1}`, string(data))

	var out map[Kind]float64
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestMetaIsConsistent(t *testing.T) {
	for _, k := range All() {
		m := k.Meta()
		assert.NotEmpty(t, m.Slug, k)
		assert.NotEmpty(t, m.Name, k)
		if m.Category.Numeric() {
			assert.NoError(t, m.Policy.Validate(), k)
		} else {
			assert.NoError(t, m.Streak.Validate(), k)
		}
		for _, p := range m.Patterns {
			_, err := regexp.Compile(p)
			assert.NoError(t, err, "%s pattern %q", k, p)
		}
		if m.ProgressPattern != "" {
			_, err := regexp.Compile(m.ProgressPattern)
			assert.NoError(t, err, k)
		}
		switch m.Category {
		case CategoryTerminal:
			assert.NotEmpty(t, m.Patterns, k)
		case CategoryProcessCPU, CategoryAppRunning:
			assert.NotEmpty(t, m.ProcessNames, k)
		case CategoryDownloads, CategoryFileActivity:
			assert.NotEmpty(t, m.Dirs, k)
		}
	}
}

func TestMetaReturnsCopies(t *testing.T) {
	m := Xcode.Meta()
	m.ProcessNames[0] = "changed"
	assert.Equal(t, "xcodebuild", Xcode.Meta().ProcessNames[0])
}

func TestInvalidKind(t *testing.T) {
	k := Kind(99)
	assert.False(t, k.Valid())
	assert.Equal(t, "kind(99)", k.String())
	_, err := k.MarshalText()
	assert.Error(t, err)
}
