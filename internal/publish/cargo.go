package publish

import (
	"bytes"
	"context"
	"os/exec"
)

// CargoPublisher invokes `cargo publish` as a subprocess: flags are derived
// from the invocation, stderr is captured whole and returned uninterpreted
// for classifyPublish to parse.
type CargoPublisher struct {
	// Bin overrides the cargo binary path; defaults to "cargo" on PATH.
	Bin string
}

func (c CargoPublisher) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "cargo"
}

func (c CargoPublisher) Publish(ctx context.Context, inv PublishInvocation) (PublishOutcome, error) {
	args := []string{"publish", "--manifest-path", inv.PackagePath, "--registry", inv.Registry}
	if inv.AllowDirty {
		args = append(args, "--allow-dirty")
	}
	if inv.NoVerify {
		args = append(args, "--no-verify")
	}
	if inv.AllFeatures {
		args = append(args, "--all-features")
	} else if len(inv.Features) > 0 {
		args = append(args, "--features", joinComma(inv.Features))
	}
	if inv.DryRun {
		args = append(args, "--dry-run")
	}
	if !inv.Token.Empty() {
		args = append(args, "--token", inv.Token.Value())
	}

	cmd := exec.CommandContext(ctx, c.bin(), args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	outcome := PublishOutcome{Stderr: stderr.String()}
	if cmd.ProcessState != nil {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}
	return outcome, runErr
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
