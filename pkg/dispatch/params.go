package dispatch

import (
	"fmt"

	"github.com/kernelpipe/dispatchoor/pkg/backend"
	"github.com/kernelpipe/dispatchoor/pkg/record"
)

// buildParams assembles the job descriptor for a created test record by
// layering, in increasing precedence: the base run parameters, the plan
// params and the device params. Device settings always win over plan
// defaults; plan defaults win over the base set.
func (c *coordinator) buildParams(child *record.Record) (backend.Params, error) {
	storeYAML, err := c.cfg.Store.ToYAML()
	if err != nil {
		return nil, err
	}

	base := backend.Params{
		"store_config_yaml": storeYAML,
		"name":              c.cfg.Plan.Name,
		"node_id":           child.ID,
		"revision":          child.Data.KernelRevision,
		"runtime":           c.runtime.Name(),
		"kernel":            c.cfg.Dispatch.Kernel,
		"src_dir":           c.cfg.Dispatch.SrcDir,
		"skip_build":        c.cfg.Dispatch.SkipBuild,
		"jobs":              c.cfg.Dispatch.Jobs,
		"tarball_url":       child.Artifact("tarball"),
		"ssh_host":          c.cfg.Dispatch.SSH.Host,
		"ssh_port":          c.cfg.Dispatch.SSH.Port,
		"ssh_user":          c.cfg.Dispatch.SSH.User,
		"ssh_key":           c.cfg.Dispatch.SSH.Key,
		"output":            c.cfg.Dispatch.OutputDir,
	}

	merged := backend.Merge(base, c.cfg.Plan.Params, c.device.Params)

	if merged["name"] == "" {
		return nil, fmt.Errorf("descriptor has no job name")
	}

	return merged, nil
}
