package worker

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/asergenalkan/vercelclone/internal/domain"
)

// CloneSpec describes what to check out.
type CloneSpec struct {
	RepoURL     string
	Branch      string
	CommitSHA   string
	AccessToken string
}

// GitCloner fetches a repository into a destination directory.
type GitCloner interface {
	Clone(ctx context.Context, spec CloneSpec, dest string) error
}

// ExecCloner shells out to the git binary.
type ExecCloner struct{}

var _ GitCloner = ExecCloner{}

// Clone clones the repository. A pinned commit forces a full clone so the
// commit is reachable; branch-head builds use a shallow clone.
func (ExecCloner) Clone(ctx context.Context, spec CloneSpec, dest string) error {
	if spec.RepoURL == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if dest == "" {
		return fmt.Errorf("destination cannot be empty")
	}

	cloneURL, err := injectToken(spec.RepoURL, spec.AccessToken)
	if err != nil {
		return err
	}

	args := []string{"clone"}
	pinned := spec.CommitSHA != "" && spec.CommitSHA != domain.CommitLatest
	if !pinned {
		args = append(args, "--depth", "1")
	}
	if spec.Branch != "" {
		args = append(args, "--branch", spec.Branch)
	}
	args = append(args, cloneURL, ".")

	if err := runGit(ctx, dest, spec.AccessToken, args...); err != nil {
		return err
	}
	if pinned {
		if err := runGit(ctx, dest, spec.AccessToken, "checkout", spec.CommitSHA); err != nil {
			return err
		}
	}
	return nil
}

func runGit(ctx context.Context, dir, token string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	// Prevent git from prompting for credentials interactively.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s failed: %w: %s", args[0], err, Scrub(string(output), token))
	}
	return nil
}

// injectToken embeds a short-lived access token into an https clone URL.
// Other transports (ssh remotes) pass through untouched.
func injectToken(repoURL, token string) (string, error) {
	if token == "" || !strings.HasPrefix(repoURL, "https://") {
		return repoURL, nil
	}
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("parse repository url: %w", err)
	}
	u.User = url.UserPassword("x-access-token", token)
	return u.String(), nil
}

// Scrub removes a credential from text before it reaches logs or viewers.
func Scrub(text, token string) string {
	if token == "" {
		return text
	}
	return strings.ReplaceAll(text, token, "***")
}
