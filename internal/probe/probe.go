// Package probe provides the accessibility-query contract the supervision
// core consumes, plus the reference implementation that shells out to the
// platform UI query helper.
//
// The core only ever asks "is this named UI signature present for this
// pid"; the exact query syntax of the platform helper stays behind this
// package boundary.
package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Locator abstractly identifies a named UI signature in the monitored
// application's window.
type Locator string

const (
	// LocatorConnectionError matches the assistant's connection-failure
	// banner ("We're having trouble connecting...", resume links).
	LocatorConnectionError Locator = "connection_error"
	// LocatorGeneralError matches generic assistant error surfaces.
	LocatorGeneralError Locator = "general_error"
	// LocatorStopButton matches the stop-generating control shown while
	// the assistant is producing output.
	LocatorStopButton Locator = "stop_button"
	// LocatorSidebarActivity matches activity indicators in the assistant
	// sidebar (spinners, streaming text regions).
	LocatorSidebarActivity Locator = "sidebar_activity"
	// LocatorResumeControl matches the "resume the conversation" control
	// some error banners carry.
	LocatorResumeControl Locator = "resume_control"
)

// Result is the outcome of one signature query.
type Result struct {
	Found bool
	// Detail carries the matched text when found, for display only.
	Detail string
}

// Querier is the accessibility query contract. Implementations return an
// error only for transport failures (helper missing, timeout); "signature
// absent" is a successful Result with Found=false.
type Querier interface {
	Query(ctx context.Context, pid int, locator Locator) (Result, error)
}

// ExecQuerier shells out to the platform accessibility helper and matches
// its text dump against the signature bank. The helper is expected to print
// the element tree text of the frontmost window of the given pid.
type ExecQuerier struct {
	// HelperPath is the query helper binary. Defaults to "axdump".
	HelperPath string
	// Timeout bounds one helper invocation.
	Timeout time.Duration
	// Signatures is the signature bank used for matching. Defaults to
	// DefaultSignatures().
	Signatures *SignatureBank
}

// NewExecQuerier returns a querier using the default helper and signatures.
func NewExecQuerier() *ExecQuerier {
	return &ExecQuerier{
		HelperPath: "axdump",
		Timeout:    3 * time.Second,
		Signatures: DefaultSignatures(),
	}
}

// Query runs the helper for pid and matches its output for the locator.
func (q *ExecQuerier) Query(ctx context.Context, pid int, locator Locator) (Result, error) {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	helper := q.HelperPath
	if helper == "" {
		helper = "axdump"
	}

	cmd := exec.CommandContext(ctx, helper, "--pid", strconv.Itoa(pid), "--text")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("%s --pid %d: %w: %s", helper, pid, err, strings.TrimSpace(stderr.String()))
	}

	bank := q.Signatures
	if bank == nil {
		bank = DefaultSignatures()
	}
	return bank.Match(locator, stdout.String()), nil
}

// Clicker performs a UI click on a named control. Like Query, it is an
// abstract contract over the platform accessibility layer.
type Clicker interface {
	Click(ctx context.Context, pid int, locator Locator) error
}

// ExecClicker shells out to the platform click helper.
type ExecClicker struct {
	// HelperPath is the click helper binary. Defaults to "axclick".
	HelperPath string
	Timeout    time.Duration
}

// NewExecClicker returns a clicker using the default helper.
func NewExecClicker() *ExecClicker {
	return &ExecClicker{HelperPath: "axclick", Timeout: 3 * time.Second}
}

// Click asks the helper to press the control identified by locator.
func (c *ExecClicker) Click(ctx context.Context, pid int, locator Locator) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	helper := c.HelperPath
	if helper == "" {
		helper = "axclick"
	}

	cmd := exec.CommandContext(ctx, helper, "--pid", strconv.Itoa(pid), "--target", string(locator))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s --pid %d --target %s: %w: %s", helper, pid, locator, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// StaticQuerier answers queries from a fixed presence map. Used in tests
// and as the building block for scripted scenarios.
type StaticQuerier struct {
	Present map[Locator]string // locator -> detail text
	Err     error
}

// Query returns the canned result for locator.
func (q *StaticQuerier) Query(_ context.Context, _ int, locator Locator) (Result, error) {
	if q.Err != nil {
		return Result{}, q.Err
	}
	if detail, ok := q.Present[locator]; ok {
		return Result{Found: true, Detail: detail}, nil
	}
	return Result{}, nil
}
