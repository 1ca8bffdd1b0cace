// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/k8s-chartdeploy/pkg/failure"
	"github.com/telekom/k8s-chartdeploy/pkg/metrics"
)

const (
	// DefaultTimeout is the ceiling for cluster-touching and registry-only commands.
	DefaultTimeout = 60 * time.Second
	// waitDelay bounds how long Wait blocks on inherited pipes after the process was killed.
	waitDelay = 5 * time.Second
	// maxMessageOutput caps how much captured output is embedded in an error message.
	maxMessageOutput = 4096
)

// Command is one shell command line to run.
type Command struct {
	// Line is passed to the shell verbatim; callers must quote arguments.
	Line string
	// Env entries are appended to the current process environment.
	Env     []string
	Timeout time.Duration
	// Label names the command in metrics, e.g. "install" or "repo-update".
	Label string
	// Display replaces Line in logs and errors when Line carries secrets.
	Display string
	// ExitCodeOnly skips the output scan; only a non-zero exit fails the
	// command. Used for commands that print chart content.
	ExitCodeOnly bool
}

func (c Command) display() string {
	if c.Display != "" {
		return c.Display
	}
	return c.Line
}

// Executor runs a Command and returns its combined output.
type Executor interface {
	Run(ctx context.Context, cmd Command) (string, error)
}

// Runner spawns shell commands, enforces a wall-clock timeout, and turns
// exit codes and known failure text into typed failures.
type Runner struct {
	shell string
	log   *zap.SugaredLogger
}

// NewRunner returns a Runner using /bin/sh.
func NewRunner(log *zap.SugaredLogger) *Runner {
	return NewRunnerWithShell("/bin/sh", log)
}

func NewRunnerWithShell(shell string, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{shell: shell, log: log.Named("process")}
}

// Run executes cmd and returns its combined stdout and stderr. The process
// group is killed when the timeout expires and a Timeout failure is returned.
// A zero exit code is not enough: output containing a failure marker is
// classified the same way as a non-zero exit.
func (r *Runner) Run(ctx context.Context, cmd Command) (string, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	label := cmd.Label
	if label == "" {
		label = "command"
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(runCtx, r.shell, "-c", cmd.Line)
	c.Env = append(os.Environ(), cmd.Env...)
	c.WaitDelay = waitDelay
	configureProcessGroup(c)

	r.log.Debugw("Running command", "label", label, "command", cmd.display(), "timeout", timeout)
	start := time.Now()
	out, err := c.CombinedOutput()
	elapsed := time.Since(start)
	output := string(out)
	metrics.HelmCommandDuration.WithLabelValues(label).Observe(elapsed.Seconds())

	if runCtx.Err() != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			metrics.HelmCommands.WithLabelValues(label, "timeout").Inc()
			r.log.Warnw("Command timed out", "label", label, "command", cmd.display(), "timeout", timeout)
			fe := failure.Timeout("command timed out after %s: %s", timeout, cmd.display())
			fe.Output = output
			return output, fe
		}
		metrics.HelmCommands.WithLabelValues(label, "canceled").Inc()
		return output, fmt.Errorf("command canceled: %s: %w", cmd.display(), ctx.Err())
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			metrics.HelmCommands.WithLabelValues(label, "error").Inc()
			return output, failure.CommandExecution(failure.ReasonNone, output, "failed to start command: %s", cmd.display()).Wrap(err)
		}
		exitCode = exitErr.ExitCode()
	}

	if ferr := classify(output, exitCode, cmd.ExitCodeOnly); ferr != nil {
		metrics.HelmCommands.WithLabelValues(label, "failure").Inc()
		r.log.Warnw("Command failed", "label", label, "command", cmd.display(), "exitCode", exitCode,
			"reason", ferr.Reason, "duration", elapsed, "output", truncate(output))
		return output, ferr
	}

	metrics.HelmCommands.WithLabelValues(label, "success").Inc()
	r.log.Debugw("Command completed", "label", label, "duration", elapsed)
	return output, nil
}

var failureMarkers = []string{"Error:", "INSTALLATION FAILED", "FAILED"}

var reasonPatterns = []struct {
	substr string
	reason failure.Reason
	msg    string
}{
	{"cannot re-use a name that is still in use", failure.ReasonNameInUse, "release name is already in use"},
	{"tls: failed to verify certificate", failure.ReasonTLSVerification, "TLS certificate verification failed"},
	{"x509: certificate", failure.ReasonTLSVerification, "TLS certificate verification failed"},
	{"connection refused", failure.ReasonConnectionRefused, "connection refused"},
	{"unable to connect", failure.ReasonConnectionRefused, "unable to connect"},
	{"Kubernetes cluster unreachable", failure.ReasonConnectionRefused, "cluster unreachable"},
}

// Classify returns nil for a successful run, otherwise a CommandExecution
// failure whose Reason reflects the first recognized pattern in output.
// Recognized patterns fail the run even with a zero exit code.
func Classify(output string, exitCode int) *failure.Error {
	return classify(output, exitCode, false)
}

func classify(output string, exitCode int, exitCodeOnly bool) *failure.Error {
	if exitCodeOnly && exitCode == 0 {
		return nil
	}
	for _, p := range reasonPatterns {
		if strings.Contains(output, p.substr) {
			return failure.CommandExecution(p.reason, output, "%s (exit code %d)", p.msg, exitCode)
		}
	}

	failed := exitCode != 0
	for _, m := range failureMarkers {
		if failed {
			break
		}
		failed = strings.Contains(output, m)
	}
	if !failed {
		return nil
	}
	return failure.CommandExecution(failure.ReasonNone, output, "command failed with exit code %d: %s", exitCode, truncate(output))
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxMessageOutput {
		return s
	}
	return s[:maxMessageOutput] + "...(truncated)"
}
