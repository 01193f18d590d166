package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/kernelpipe/dispatchoor/pkg/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// RuntimeShell is the name of the local shell runtime.
const RuntimeShell = "shell"

// jobScript is the template for the generated job script. The parameter file
// sits next to the script; the runner command is taken from the plan params.
const jobScript = `#!/bin/sh
# Generated job: {{ .Name }}
set -e
export JOB_PARAMS="$(dirname "$0")/params.yaml"
{{ .Command }}
`

// Compile-time interface check.
var _ Backend = (*shellBackend)(nil)

type shellBackend struct {
	log logrus.FieldLogger
}

// NewShell creates the local shell runtime.
func NewShell(log logrus.FieldLogger) Backend {
	return &shellBackend{
		log: log.WithField("component", "backend"),
	}
}

func (s *shellBackend) Name() string { return RuntimeShell }

func (s *shellBackend) Generate(params Params, device *config.DeviceConfig, plan *config.PlanConfig) (*Job, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, fmt.Errorf("job descriptor is missing a name")
	}

	command, _ := params["command"].(string)
	if command == "" {
		// Without an explicit command the job invokes the plan runner.
		command = fmt.Sprintf("%s --params \"$JOB_PARAMS\"", plan.Name)
	}

	tmpl, err := template.New("job").Parse(jobScript)
	if err != nil {
		return nil, fmt.Errorf("parsing job template: %w", err)
	}

	var script strings.Builder
	if err := tmpl.Execute(&script, map[string]string{
		"Name":    name,
		"Command": command,
	}); err != nil {
		return nil, fmt.Errorf("rendering job script: %w", err)
	}

	return &Job{
		Name:   name,
		Script: script.String(),
		Params: params,
	}, nil
}

func (s *shellBackend) Save(job *Job, dir string) (string, error) {
	paramsData, err := yaml.Marshal(job.Params)
	if err != nil {
		return "", fmt.Errorf("serializing job params: %w", err)
	}

	paramsPath := filepath.Join(dir, "params.yaml")
	if err := os.WriteFile(paramsPath, paramsData, 0o644); err != nil {
		return "", fmt.Errorf("writing job params: %w", err)
	}

	scriptPath := filepath.Join(dir, job.Name+".sh")
	if err := os.WriteFile(scriptPath, []byte(job.Script), 0o755); err != nil {
		return "", fmt.Errorf("writing job script: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"job":  job.Name,
		"path": scriptPath,
	}).Debug("Job saved")

	return scriptPath, nil
}

func (s *shellBackend) Submit(path string) (Handle, error) {
	cmd := exec.Command("/bin/sh", path)
	cmd.Dir = filepath.Dir(path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting job %s: %w", path, err)
	}

	s.log.WithFields(logrus.Fields{
		"path": path,
		"pid":  cmd.Process.Pid,
	}).Info("Job submitted")

	return newShellHandle(cmd), nil
}

type shellHandle struct {
	cmd  *exec.Cmd
	done chan error
}

func newShellHandle(cmd *exec.Cmd) *shellHandle {
	h := &shellHandle{
		cmd:  cmd,
		done: make(chan error, 1),
	}

	go func() {
		h.done <- cmd.Wait()
	}()

	return h
}

// Wait blocks until the job process exits. Cancellation kills the process;
// the reaper goroutine still collects its exit status.
func (h *shellHandle) Wait(ctx context.Context) error {
	select {
	case err := <-h.done:
		if err != nil {
			return fmt.Errorf("job failed: %w", err)
		}

		return nil
	case <-ctx.Done():
		if err := h.cmd.Process.Kill(); err != nil {
			return fmt.Errorf("killing job after cancellation: %w", err)
		}

		<-h.done

		return ctx.Err()
	}
}
