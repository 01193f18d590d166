// Package report renders completed records into human-readable text reports.
// Composite records (test suites, regressions) are resolved recursively
// against the record store.
package report

import (
	"context"
	"fmt"
	"strings"

	"github.com/kernelpipe/dispatchoor/pkg/record"
	"github.com/kernelpipe/dispatchoor/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	banner = "============================================================"

	// maxDepth bounds recursive resolution of regression references. The
	// parent relation is acyclic by construction, but regression pass/fail
	// references are plain ids and are capped defensively.
	maxDepth = 10

	// LogArtifact is the artifact name carrying the test run log.
	LogArtifact = "log"
)

// ErrUnsupportedKind is returned for records outside the closed report
// vocabulary.
var ErrUnsupportedKind = fmt.Errorf("unsupported record kind")

// ErrCycleDetected is returned when regression references recurse past the
// depth bound.
var ErrCycleDetected = fmt.Errorf("reference cycle detected")

// Builder renders a record into a text report.
type Builder interface {
	// Render produces the report for rec, resolving child and referenced
	// records through the store. Rendering is read-only: the same record
	// yields byte-identical output as long as the store is unchanged.
	Render(ctx context.Context, rec *record.Record) (string, error)
}

// Compile-time interface check.
var _ Builder = (*builder)(nil)

type builder struct {
	log logrus.FieldLogger
	db  store.Store
}

// NewBuilder creates a report builder reading from the given store.
func NewBuilder(log logrus.FieldLogger, db store.Store) Builder {
	return &builder{
		log: log.WithField("component", "report"),
		db:  db,
	}
}

func (b *builder) Render(ctx context.Context, rec *record.Record) (string, error) {
	return b.render(ctx, rec, 0)
}

// render dispatches on the record kind and wraps the result in the report
// banner. Recursive calls (regression branches) re-enter here so nested
// reports carry their own framing.
func (b *builder) render(ctx context.Context, rec *record.Record, depth int) (string, error) {
	if depth > maxDepth {
		return "", fmt.Errorf("record %s: %w", rec.ID, ErrCycleDetected)
	}

	var (
		body string
		err  error
	)

	switch rec.Kind {
	case record.KindKbuild:
		body = b.renderKbuild(rec)
	case record.KindTest:
		body, err = b.renderTest(ctx, rec)
	case record.KindRegression:
		body, err = b.renderRegression(ctx, rec, depth)
	default:
		return "", fmt.Errorf("record %s kind %q: %w", rec.ID, rec.Kind, ErrUnsupportedKind)
	}

	if err != nil {
		return "", err
	}

	return banner + "\n" + body + "\n" + banner + "\n", nil
}

// renderTest picks the suite or case layout. A test record with children is a
// suite; a leaf with a suite group is a case. The classification is derived,
// not stored.
func (b *builder) renderTest(ctx context.Context, rec *record.Record) (string, error) {
	children, err := b.db.Find(ctx, store.Filter{
		store.FieldKind:   record.KindTest,
		store.FieldParent: rec.ID,
	})
	if err != nil {
		return "", fmt.Errorf("finding children of %s: %w", rec.ID, err)
	}

	if len(children) == 0 && rec.Group != "" {
		return b.renderTestCase(ctx, rec)
	}

	return b.renderTestSuite(rec, children), nil
}

func (b *builder) renderTestSuite(rec *record.Record, children []*record.Record) string {
	parts := []string{
		fmt.Sprintf("Test id: %s", rec.ID),
		fmt.Sprintf("Name: %s", rec.Name),
		fmt.Sprintf("Date: %s", rec.Created),
	}
	parts = append(parts, logLine(rec))
	parts = append(parts, kernelBlock(&rec.Data.KernelRevision))
	parts = append(parts,
		fmt.Sprintf("Platform: %s", rec.Data.Platform),
		fmt.Sprintf("Job id: %s", rec.Data.JobID),
		fmt.Sprintf("Test cases: %d", len(children)),
	)

	indent := strings.Repeat(" ", 8)
	for _, child := range children {
		parts = append(parts,
			fmt.Sprintf("Test case: %s", child.Name),
			fmt.Sprintf("%sTest id: %s", indent, child.ID),
			fmt.Sprintf("%sResult: %s\n", indent, child.Result),
		)
	}

	return strings.Join(parts, "\n")
}

// renderTestCase reports a leaf test. Case records carry no log of their own;
// the log and platform come from the parent suite or build record.
func (b *builder) renderTestCase(ctx context.Context, rec *record.Record) (string, error) {
	parent, err := b.db.Get(ctx, rec.Parent)
	if err != nil {
		return "", fmt.Errorf("resolving parent of %s: %w", rec.ID, err)
	}

	parts := []string{
		fmt.Sprintf("Test id: %s", rec.ID),
		fmt.Sprintf("Name: %s - suite: %s", rec.Name, rec.Group),
		fmt.Sprintf("Date: %s", rec.Created),
		fmt.Sprintf("Result: %s", rec.Result),
	}
	parts = append(parts, logLine(parent))
	parts = append(parts, kernelBlock(&rec.Data.KernelRevision))
	parts = append(parts,
		fmt.Sprintf("Platform: %s", parent.Data.Platform),
		fmt.Sprintf("Job id: %s", rec.Data.JobID),
	)

	return strings.Join(parts, "\n"), nil
}

func (b *builder) renderKbuild(rec *record.Record) string {
	parts := []string{
		fmt.Sprintf("Kbuild id: %s", rec.ID),
		fmt.Sprintf("Name: %s", rec.Name),
		fmt.Sprintf("Date: %s", rec.Created),
	}
	parts = append(parts, kernelBlock(&rec.Data.KernelRevision))
	parts = append(parts, "Artifacts:\n"+
		fmt.Sprintf("    Build log: %s\n", rec.Artifact("build_log"))+
		fmt.Sprintf("    Build image stdout: %s\n", rec.Artifact("build_kimage_stdout"))+
		fmt.Sprintf("    Build image errors: %s\n", rec.Artifact("build_kernel_errors"))+
		fmt.Sprintf("    Build modules stdout: %s\n", rec.Artifact("build_modules_stdout"))+
		fmt.Sprintf("    Build modules errors: %s\n", rec.Artifact("build_modules_errors"))+
		fmt.Sprintf("    Metadata: %s\n", rec.Artifact("metadata"))+
		fmt.Sprintf("    Kernel image: %s\n", rec.Artifact("kernel"))+
		fmt.Sprintf("    Kernel modules: %s", rec.Artifact("modules")))
	parts = append(parts,
		fmt.Sprintf("Runtime: %s", rec.Data.Runtime),
		fmt.Sprintf("Job id: %s", rec.Data.JobID),
	)

	return strings.Join(parts, "\n")
}

// renderRegression resolves the passing and failing references and embeds
// their full reports.
func (b *builder) renderRegression(ctx context.Context, rec *record.Record, depth int) (string, error) {
	passRec, err := b.db.Get(ctx, rec.Data.PassID)
	if err != nil {
		return "", fmt.Errorf("resolving pass record of %s: %w", rec.ID, err)
	}

	failRec, err := b.db.Get(ctx, rec.Data.FailID)
	if err != nil {
		return "", fmt.Errorf("resolving fail record of %s: %w", rec.ID, err)
	}

	passReport, err := b.render(ctx, passRec, depth+1)
	if err != nil {
		return "", err
	}

	failReport, err := b.render(ctx, failRec, depth+1)
	if err != nil {
		return "", err
	}

	parts := []string{
		fmt.Sprintf("Name: %s - suite: %s", rec.Name, rec.Group),
		fmt.Sprintf("Date: %s", rec.Created),
		fmt.Sprintf("Result: %s", rec.Result),
		"Passed node: ...",
		passReport,
		"Failed node: ...",
		failReport,
	}

	return strings.Join(parts, "\n"), nil
}

func logLine(rec *record.Record) string {
	if log := rec.Artifact(LogArtifact); log != "" {
		return fmt.Sprintf("Log: %s", log)
	}

	return "NO TEST LOG"
}

func kernelBlock(rev *record.KernelRevision) string {
	return fmt.Sprintf("Kernel:\n"+
		"    tree: %s\n"+
		"    branch: %s\n"+
		"    commit: %s\n"+
		"    describe: %s",
		rev.Tree, rev.Branch, rev.Commit, rev.Describe)
}
