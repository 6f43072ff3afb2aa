// Package git wraps the git command line for the operations the sync engine
// needs. Expected failures such as a rejected push are reported as typed
// errors carrying the captured output, never as panics.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Remote addresses one peer's copy of a repository. Path-only remotes are
// reached directly; anything else goes through ssh with scp-like URLs.
type Remote struct {
	Host string
	Path string
	// Local marks a remote that lives on this host and can be reached as a
	// plain filesystem path.
	Local bool
}

// URL returns the push URL for the remote.
func (r Remote) URL() string {
	if r.Local {
		return r.Path
	}
	return r.Host + ":" + r.Path
}

// Access executes git operations against the local repository and its peers.
// All operations are synchronous; rejected pushes surface as *PushError.
type Access interface {
	// InitRepo initializes dir as a git repository if it is not one already.
	InitRepo(ctx context.Context, dir string) error
	// SnapshotLocalBranches returns branch name -> commit hash for every
	// local branch of the repository at dir.
	SnapshotLocalBranches(ctx context.Context, dir string) (map[string]string, error)
	// Push pushes localRef from the repository at dir to remoteBranch on the
	// remote. With force false a non-fast-forward push is rejected and
	// reported as a *PushError with NonFastForward set.
	Push(ctx context.Context, dir, localRef, remoteURL, remoteBranch string, force bool) error
	// RenameBranch renames a branch inside the remote repository. With
	// overwrite, an existing branch under the new name is replaced.
	RenameBranch(ctx context.Context, r Remote, from, to string, overwrite bool) error
	// DeleteBranch removes a branch from the remote repository.
	DeleteBranch(ctx context.Context, r Remote, name string, force bool) error
	// HardReset resets the remote repository's working tree to ref.
	HardReset(ctx context.Context, r Remote, ref string) error
	// CheckedOutBranch reports the branch checked out in the remote
	// repository, or "" for a bare repository or a detached HEAD.
	CheckedOutBranch(ctx context.Context, r Remote) (string, error)
	// WorkingAreaClean reports whether the remote repository's working tree
	// has no uncommitted changes.
	WorkingAreaClean(ctx context.Context, r Remote) (bool, error)
}

// ShellClient implements Access by shelling out to the git command.
// Operations against non-local remotes run git on the peer via ssh, so peers
// must be reachable with non-interactive ssh.
type ShellClient struct {
	gitBin string
	sshBin string
}

// NewShellClient creates a git client that uses the git (and, for remote
// peers, ssh) commands from PATH.
func NewShellClient() *ShellClient {
	return &ShellClient{
		gitBin: "git",
		sshBin: "ssh",
	}
}

func (c *ShellClient) InitRepo(ctx context.Context, dir string) error {
	if _, err := c.runLocal(ctx, dir, "rev-parse", "--git-dir"); err == nil {
		return nil
	}

	if _, err := c.runLocal(ctx, dir, "init"); err != nil {
		return fmt.Errorf("git init %s: %w", dir, err)
	}
	// Let peers push into this working copy; the engine resets the working
	// tree afterwards.
	if _, err := c.runLocal(ctx, dir, "config", "receive.denyCurrentBranch", "ignore"); err != nil {
		return fmt.Errorf("git config %s: %w", dir, err)
	}
	return nil
}

func (c *ShellClient) SnapshotLocalBranches(ctx context.Context, dir string) (map[string]string, error) {
	out, err := c.runLocal(ctx, dir, "for-each-ref", "--format=%(refname:short) %(objectname)", "refs/heads")
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref %s: %w", dir, err)
	}
	return parseBranchList(out), nil
}

func (c *ShellClient) Push(ctx context.Context, dir, localRef, remoteURL, remoteBranch string, force bool) error {
	args := []string{"-C", dir, "push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, remoteURL, localRef+":refs/heads/"+remoteBranch)

	cmd := exec.CommandContext(ctx, c.gitBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return classifyPushError(string(out), exitCode(err))
	}
	return nil
}

func (c *ShellClient) RenameBranch(ctx context.Context, r Remote, from, to string, overwrite bool) error {
	flag := "-m"
	if overwrite {
		flag = "-M"
	}
	if _, err := c.runRemote(ctx, r, "branch", flag, from, to); err != nil {
		return fmt.Errorf("rename branch %s -> %s on %s: %w", from, to, r.URL(), err)
	}
	return nil
}

func (c *ShellClient) DeleteBranch(ctx context.Context, r Remote, name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := c.runRemote(ctx, r, "branch", flag, name); err != nil {
		return fmt.Errorf("delete branch %s on %s: %w", name, r.URL(), err)
	}
	return nil
}

func (c *ShellClient) HardReset(ctx context.Context, r Remote, ref string) error {
	if _, err := c.runRemote(ctx, r, "reset", "--hard", ref); err != nil {
		return fmt.Errorf("hard reset to %s on %s: %w", ref, r.URL(), err)
	}
	return nil
}

func (c *ShellClient) CheckedOutBranch(ctx context.Context, r Remote) (string, error) {
	out, err := c.runRemote(ctx, r, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		// exit status 1 means detached HEAD, which is not an error here
		if exitCode(err) == 1 {
			return "", nil
		}
		return "", fmt.Errorf("checked out branch on %s: %w", r.URL(), err)
	}
	return strings.TrimSpace(out), nil
}

func (c *ShellClient) WorkingAreaClean(ctx context.Context, r Remote) (bool, error) {
	out, err := c.runRemote(ctx, r, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status on %s: %w", r.URL(), err)
	}
	return strings.TrimSpace(out) == "", nil
}

// runLocal executes git against a repository on this host.
func (c *ShellClient) runLocal(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, c.gitBin, append([]string{"-C", dir}, args...)...)
	return runCommand(cmd)
}

// runRemote executes git against the remote's repository, over ssh when the
// remote is not local.
func (c *ShellClient) runRemote(ctx context.Context, r Remote, args ...string) (string, error) {
	if r.Local {
		return c.runLocal(ctx, r.Path, args...)
	}
	sshArgs := append([]string{r.Host, "--", "git", "-C", r.Path}, args...)
	cmd := exec.CommandContext(ctx, c.sshBin, sshArgs...)
	return runCommand(cmd)
}

// runCommand executes a command and returns an error with the combined
// output on failure.
func runCommand(cmd *exec.Cmd) (string, error) {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return string(output), nil
}

// parseBranchList parses "name hash" lines produced by for-each-ref.
func parseBranchList(out string) map[string]string {
	branches := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, hash, ok := strings.Cut(line, " ")
		if !ok || name == "" || hash == "" {
			continue
		}
		branches[name] = hash
	}
	return branches
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}
