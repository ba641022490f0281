package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ExecInjector installs hooks by shelling out to the platform injection
// helper. The helper is handed the window id and the loopback port the
// hook must listen on.
type ExecInjector struct {
	// HelperPath is the injection helper binary. Defaults to "vigil-hook".
	HelperPath string
	// Timeout bounds one injection attempt.
	Timeout time.Duration
}

// NewExecInjector returns an injector using the default helper.
func NewExecInjector() *ExecInjector {
	return &ExecInjector{HelperPath: "vigil-hook", Timeout: 10 * time.Second}
}

// Inject runs the helper for windowID, telling the hook to listen on port.
func (i *ExecInjector) Inject(ctx context.Context, windowID string, port int) error {
	timeout := i.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	helper := i.HelperPath
	if helper == "" {
		helper = "vigil-hook"
	}

	cmd := exec.CommandContext(ctx, helper, "--window", windowID, "--port", strconv.Itoa(port))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s --window %s --port %d: %w: %s",
			helper, windowID, port, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
