// Package proc enumerates running instances of the monitored application.
package proc

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/vigildev/vigil/internal/instance"
)

// Lister finds the currently running monitored processes.
type Lister interface {
	List(ctx context.Context, pattern string) ([]instance.Instance, error)
}

// PgrepLister shells out to pgrep. Exit status 1 (no matches) is a normal
// empty result, not an error.
type PgrepLister struct {
	Timeout time.Duration
}

// NewLister returns the default process lister.
func NewLister() *PgrepLister {
	return &PgrepLister{Timeout: 3 * time.Second}
}

// List returns one Instance per process whose full command line matches
// pattern.
func (l *PgrepLister) List(ctx context.Context, pattern string) ([]instance.Instance, error) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pgrep", "-f", "-l", pattern)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("pgrep -f %q: %w: %s", pattern, err, strings.TrimSpace(stderr.String()))
	}

	return parsePgrepOutput(stdout.String()), nil
}

// parsePgrepOutput turns "pid name" lines into instances. Unparseable
// lines are skipped.
func parsePgrepOutput(out string) []instance.Instance {
	var instances []instance.Instance
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		inst := instance.Instance{PID: pid}
		if len(fields) == 2 {
			inst.Title = strings.TrimSpace(fields[1])
		}
		instances = append(instances, inst)
	}
	return instances
}

// StaticLister returns a fixed instance list. Used in tests.
type StaticLister struct {
	Instances []instance.Instance
	Err       error
}

// List returns the canned instances.
func (l *StaticLister) List(context.Context, string) ([]instance.Instance, error) {
	return l.Instances, l.Err
}
