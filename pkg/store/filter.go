package store

import (
	"strings"
	"time"

	"github.com/kernelpipe/dispatchoor/pkg/record"
)

// Filter field names understood by Find and by channel subscriptions.
// Revision fields are addressed with the "data.kernel_revision." prefix.
const (
	FieldKind         = "kind"
	FieldName         = "name"
	FieldGroup        = "group"
	FieldParent       = "parent"
	FieldState        = "state"
	FieldResult       = "result"
	FieldCreatedAfter = "created_after"
	FieldPlatform     = "data.platform"

	revisionPrefix = "data.kernel_revision."
)

// DateLayout is the wire format for the created_after filter value.
const DateLayout = "2006-01-02"

// Filter is a structured query against the record store: every entry must
// match for a record to be selected.
type Filter map[string]string

// Clone returns a copy of the filter.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = v
	}

	return out
}

// Matches reports whether rec satisfies every entry of the filter. Used both
// for subscription delivery and for the non-column filter fields in Find.
func (f Filter) Matches(rec *record.Record) bool {
	for key, want := range f {
		if !matchField(rec, key, want) {
			return false
		}
	}

	return true
}

func matchField(rec *record.Record, key, want string) bool {
	switch key {
	case FieldKind:
		return rec.Kind == want
	case FieldName:
		return rec.Name == want
	case FieldGroup:
		return rec.Group == want
	case FieldParent:
		return rec.Parent == want
	case FieldState:
		return rec.State == want
	case FieldResult:
		return rec.Result == want
	case FieldPlatform:
		return rec.Data.Platform == want
	case FieldCreatedAfter:
		after, err := time.Parse(DateLayout, want)
		if err != nil {
			return false
		}

		return rec.Created.After(after)
	}

	if field, ok := strings.CutPrefix(key, revisionPrefix); ok {
		return matchRevision(&rec.Data.KernelRevision, field, want)
	}

	return false
}

func matchRevision(rev *record.KernelRevision, field, want string) bool {
	switch field {
	case "tree":
		return rev.Tree == want
	case "branch":
		return rev.Branch == want
	case "commit":
		return rev.Commit == want
	case "describe":
		return rev.Describe == want
	}

	return false
}
