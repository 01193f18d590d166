// Package record defines the node model shared by the dispatcher and the
// report pipeline. A record describes one pipeline event or result: a kernel
// checkout, a test run, a kernel build or a detected regression.
package record

import (
	"time"
)

// Record kinds.
const (
	KindCheckout   = "checkout"
	KindTest       = "test"
	KindKbuild     = "kbuild"
	KindRegression = "regression"
)

// Record lifecycle states.
const (
	StateAvailable = "available"
	StateRunning   = "running"
	StateDone      = "done"
)

// Record results, present once a record reaches StateDone.
const (
	ResultPass    = "pass"
	ResultFail    = "fail"
	ResultUnknown = "unknown"
)

// KernelRevision identifies the kernel source a record was produced from.
type KernelRevision struct {
	Tree     string `json:"tree" yaml:"tree"`
	Branch   string `json:"branch" yaml:"branch"`
	Commit   string `json:"commit" yaml:"commit"`
	Describe string `json:"describe" yaml:"describe"`
}

// Data carries the kind-specific payload of a record. For test and kbuild
// records the revision/platform/job fields are set; for regression records
// PassID and FailID reference the passing and failing records.
type Data struct {
	KernelRevision KernelRevision `json:"kernel_revision" yaml:"kernel_revision"`
	Platform       string         `json:"platform,omitempty" yaml:"platform,omitempty"`
	JobID          string         `json:"job_id,omitempty" yaml:"job_id,omitempty"`
	Runtime        string         `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	PassID         string         `json:"pass_id,omitempty" yaml:"pass_id,omitempty"`
	FailID         string         `json:"fail_id,omitempty" yaml:"fail_id,omitempty"`
}

// Record is the central entity flowing through both subsystems. IDs are
// assigned by the store on creation; Parent points at the originating record
// and is empty only for root checkout records.
type Record struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Name      string            `json:"name"`
	Group     string            `json:"group,omitempty"`
	Parent    string            `json:"parent,omitempty"`
	State     string            `json:"state"`
	Result    string            `json:"result,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
	Data      Data              `json:"data"`
	Path      []string          `json:"path,omitempty"`
	Created   time.Time         `json:"created"`
	Updated   time.Time         `json:"updated"`
}

// ValidKind reports whether kind is one of the known record kinds.
func ValidKind(kind string) bool {
	switch kind {
	case KindCheckout, KindTest, KindKbuild, KindRegression:
		return true
	}

	return false
}

// ChildPath returns the lineage path for a child named name.
func (r *Record) ChildPath(name string) []string {
	path := make([]string, 0, len(r.Path)+1)
	path = append(path, r.Path...)
	path = append(path, name)

	return path
}

// Artifact returns the named artifact location, or the empty string if the
// record carries no such artifact.
func (r *Record) Artifact(name string) string {
	if r.Artifacts == nil {
		return ""
	}

	return r.Artifacts[name]
}
