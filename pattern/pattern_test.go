package pattern

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tgrcode.com/railplan/loader"
)

func loadLine(t *testing.T, name string) *loader.LineSpec {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "testdata", "uk-rail", name))
	require.NoError(t, err)
	spec, err := loader.Load(raw)
	require.NoError(t, err)
	return spec
}

func TestAllPatternCallsEverywhere(t *testing.T) {
	line := loadLine(t, "bakerloo.json")
	for i, st := range line.Stations {
		result, err := AtRef(line, "stopping", st.Name)
		require.NoError(t, err)
		assert.Equal(t, Calls, result, "stopping must call at %s (index %d)", st.Name, i)
	}
}

func TestExplicitStopSet(t *testing.T) {
	line := loadLine(t, "bakerloo.json")

	cases := []struct {
		pattern, ref string
		want         Result
	}{
		{"fast", "Willesden Junction", Skips},
		{"fast", "WMB", Calls},            // resolved by code
		{"fast", "Wembley Central", Calls}, // same station by name
		{"fast", "Kenton", Skips},
		{"semi_fast", "Queen's Park", Calls},
		{"semi_fast", "willesden junction", Calls},     // case-insensitive match
		{"semi_fast", "  Willesden   Junction ", Calls}, // whitespace-collapsed match
		{"semi_fast", "Maida Vale", Skips},
		{"stopping", "No Such Station", Unknown},
		{"fast", "Brixton", Unknown}, // not a station of this line
	}
	for _, tc := range cases {
		result, err := AtRef(line, tc.pattern, tc.ref)
		require.NoError(t, err)
		assert.Equal(t, tc.want, result, "%s at %q", tc.pattern, tc.ref)
	}
}

func TestDanglingReferences(t *testing.T) {
	line := loadLine(t, "bakerloo.json")

	resolved, err := Resolve(line, "fast")
	require.NoError(t, err)
	assert.Equal(t, []string{"WWT", "SFK"}, resolved.Dangling)

	// Dangling refs never count toward membership.
	assert.Len(t, resolved.Members, 6)
}

func TestUnknownPattern(t *testing.T) {
	line := loadLine(t, "victoria.json")
	_, err := Resolve(line, "express")
	assert.Error(t, err)
}

// Every (pattern, line-station) pair in the dataset resolves to CALLS or
// SKIPS, never UNKNOWN.
func TestResolverTotality(t *testing.T) {
	dir := filepath.Join("..", "testdata", "uk-rail")
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, entry := range entries {
		line := loadLine(t, entry.Name())
		resolved, err := ResolveAll(line)
		require.NoError(t, err)
		for pname, r := range resolved {
			for i := range line.Stations {
				result := r.At(line, i)
				assert.NotEqual(t, Unknown, result,
					"line %s pattern %s station %s", line.Name, pname, line.Stations[i].Name)
			}
		}
	}
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "CALLS", Calls.String())
	assert.Equal(t, "SKIPS", Skips.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
}
