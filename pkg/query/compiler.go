// Package query compiles report settings presets into record store filters.
package query

import (
	"fmt"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/kernelpipe/dispatchoor/pkg/record"
	"github.com/kernelpipe/dispatchoor/pkg/store"
)

// ErrUnknownBlock is returned when a preset contains a block name outside the
// closed tests/kbuilds/regressions vocabulary.
var ErrUnknownBlock = fmt.Errorf("unknown settings block")

// blockKinds is the closed mapping from preset block names to record kinds.
// Blocks are compiled in this order so the output is deterministic.
var blockOrder = []string{"tests", "kbuilds", "regressions"}

var blockKinds = map[string]string{
	"tests":       record.KindTest,
	"kbuilds":     record.KindKbuild,
	"regressions": record.KindRegression,
}

// Compile turns a settings preset into a list of store filters. Every block
// seeds its filters with {kind, state: done, created_after: since}; a `repos`
// list inside an item fans the item out into one filter per repo entry, with
// the repo fields namespaced under data.kernel_revision.
func Compile(preset config.Preset, since time.Time) ([]store.Filter, error) {
	for name := range preset {
		if _, ok := blockKinds[name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownBlock, name)
		}
	}

	var filters []store.Filter

	for _, name := range blockOrder {
		block, ok := preset[name]
		if !ok {
			continue
		}

		compiled, err := compileBlock(block, blockKinds[name], since)
		if err != nil {
			return nil, fmt.Errorf("block %q: %w", name, err)
		}

		filters = append(filters, compiled...)
	}

	return filters, nil
}

// compileBlock compiles one settings block. An empty block yields the base
// filter alone.
func compileBlock(block []map[string]any, kind string, since time.Time) ([]store.Filter, error) {
	base := store.Filter{
		store.FieldKind:         kind,
		store.FieldState:        record.StateDone,
		store.FieldCreatedAfter: since.Format(store.DateLayout),
	}

	if len(block) == 0 {
		return []store.Filter{base}, nil
	}

	var filters []store.Filter

	for _, item := range block {
		itemFilter := base.Clone()

		var repos []store.Filter

		for key, value := range item {
			if key == "repos" {
				var err error

				repos, err = compileRepos(value)
				if err != nil {
					return nil, err
				}

				continue
			}

			itemFilter[key] = fmt.Sprintf("%v", value)
		}

		if len(repos) == 0 {
			filters = append(filters, itemFilter)

			continue
		}

		for _, repo := range repos {
			merged := itemFilter.Clone()
			for key, value := range repo {
				merged[key] = value
			}

			filters = append(filters, merged)
		}
	}

	return filters, nil
}

// compileRepos namespaces every repo entry field under data.kernel_revision.
func compileRepos(value any) ([]store.Filter, error) {
	entries, ok := value.([]any)
	if !ok {
		// mapstructure may decode the list with concrete map elements.
		typed, tok := value.([]map[string]any)
		if !tok {
			return nil, fmt.Errorf("repos must be a list of mappings, got %T", value)
		}

		repos := make([]store.Filter, 0, len(typed))
		for _, entry := range typed {
			repos = append(repos, repoFilter(entry))
		}

		return repos, nil
	}

	repos := make([]store.Filter, 0, len(entries))

	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("repos entry must be a mapping, got %T", raw)
		}

		repos = append(repos, repoFilter(entry))
	}

	return repos, nil
}

func repoFilter(entry map[string]any) store.Filter {
	repo := make(store.Filter, len(entry))
	for field, value := range entry {
		repo["data.kernel_revision."+field] = fmt.Sprintf("%v", value)
	}

	return repo
}
