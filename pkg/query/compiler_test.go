package query

import (
	"testing"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var since = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCompileEmptyBlock(t *testing.T) {
	filters, err := Compile(config.Preset{"tests": nil}, since)
	require.NoError(t, err)
	require.Len(t, filters, 1)

	assert.Equal(t, store.Filter{
		"kind":          "test",
		"state":         "done",
		"created_after": "2024-01-01",
	}, filters[0])
}

func TestCompileRepoFanOut(t *testing.T) {
	preset := config.Preset{
		"tests": {
			{
				"foo": 1,
				"repos": []any{
					map[string]any{"tree": "a"},
					map[string]any{"tree": "b"},
				},
			},
		},
	}

	filters, err := Compile(preset, since)
	require.NoError(t, err)
	require.Len(t, filters, 2)

	trees := make([]string, 0, 2)

	for _, f := range filters {
		assert.Equal(t, "test", f["kind"])
		assert.Equal(t, "done", f["state"])
		assert.Equal(t, "2024-01-01", f["created_after"])
		assert.Equal(t, "1", f["foo"])
		trees = append(trees, f["data.kernel_revision.tree"])
	}

	assert.ElementsMatch(t, []string{"a", "b"}, trees)
}

func TestCompileItemWithoutRepos(t *testing.T) {
	preset := config.Preset{
		"kbuilds": {
			{"name": "kbuild-gcc-12"},
		},
	}

	filters, err := Compile(preset, since)
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.Equal(t, "kbuild", filters[0]["kind"])
	assert.Equal(t, "kbuild-gcc-12", filters[0]["name"])
}

func TestCompileBlockOrderIsStable(t *testing.T) {
	preset := config.Preset{
		"regressions": nil,
		"tests":       nil,
		"kbuilds":     nil,
	}

	filters, err := Compile(preset, since)
	require.NoError(t, err)
	require.Len(t, filters, 3)
	assert.Equal(t, "test", filters[0]["kind"])
	assert.Equal(t, "kbuild", filters[1]["kind"])
	assert.Equal(t, "regression", filters[2]["kind"])
}

func TestCompileUnknownBlock(t *testing.T) {
	_, err := Compile(config.Preset{"builds": nil}, since)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownBlock)
}

func TestCompileBadRepos(t *testing.T) {
	preset := config.Preset{
		"tests": {
			{"repos": "not-a-list"},
		},
	}

	_, err := Compile(preset, since)
	require.Error(t, err)
}
