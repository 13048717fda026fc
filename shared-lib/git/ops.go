package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// maxStderrBytes bounds how much of a failed command's stderr ends up in the error.
const maxStderrBytes = 4096

// CommandError is returned when the git CLI exits with a non-zero status.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("`git %s` exited with code %d: %s", strings.Join(e.Args, " "), e.ExitCode, e.Stderr)
}

// runGit runs the git CLI against the client's git-dir/work-tree pair.
// Stdout is discarded; stderr is captured for the error.
func (client *Client) runGit(ctx context.Context, args ...string) error {
	fullArgs := append([]string{
		"--git-dir", client.GitDir(),
		"--work-tree", client.repoPath,
	}, args...)

	cmd := exec.CommandContext(ctx, client.gitBinary, fullArgs...)
	cmd.Dir = client.repoPath
	cmd.Env = os.Environ()
	if sshEnv, err := sshCommandEnv(client.auth); err != nil {
		return err
	} else if sshEnv != "" {
		cmd.Env = append(cmd.Env, sshEnv)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return fmt.Errorf("failed to run `git %s`: %w", strings.Join(args, " "), err)
		}
		return &CommandError{
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Stderr:   tail(stderr.String(), maxStderrBytes),
		}
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
