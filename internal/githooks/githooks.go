// Package githooks installs and removes the git hook scripts that bridge
// local git operations into validation runs.
//
// Every managed script carries a banner line. Install and Uninstall only
// ever touch files whose banner matches, so a hand-written hook is never
// silently overwritten or deleted.
package githooks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/logging"
)

// Banner marks a hook script as managed. Bump the version when the script
// shape changes so stale hooks are detectable.
const Banner = "# gated hook v1 (managed by gatectl; do not edit)"

// KnownHooks lists the hook names the bridge can manage.
var KnownHooks = []string{"pre-commit", "pre-push", "post-commit", "commit-msg"}

// State describes one hook slot in the hooks directory.
type State string

const (
	StateInstalled State = "installed"
	StateForeign   State = "foreign"
	StateAbsent    State = "absent"
)

// Bridge manages hook scripts under a single hooks directory.
type Bridge struct {
	dir    string
	logger *logging.Logger
}

// New creates a bridge for the given hooks directory.
func New(dir string, logger *logging.Logger) *Bridge {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Bridge{dir: dir, logger: logger.Named("githooks")}
}

// FindHooksDir walks up from start looking for a .git directory and
// returns its hooks path. Worktrees, where .git is a pointer file, are
// followed.
func FindHooksDir(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for {
		gitPath := filepath.Join(dir, ".git")
		info, err := os.Stat(gitPath)
		if err == nil {
			if info.IsDir() {
				return filepath.Join(gitPath, "hooks"), nil
			}
			return hooksDirFromGitFile(gitPath)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no git repository found above %s", start)
		}
		dir = parent
	}
}

// hooksDirFromGitFile resolves a "gitdir: <path>" pointer file.
func hooksDirFromGitFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	target := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(data)), "gitdir:"))
	if target == "" {
		return "", fmt.Errorf("malformed gitfile at %s", path)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(filepath.Dir(path), target)
	}
	return filepath.Join(target, "hooks"), nil
}

// Install writes managed scripts for the given hooks. Installing over an
// existing managed hook rewrites it; a foreign hook is skipped unless
// force is set. Returns the list of hooks actually written.
func (b *Bridge) Install(hooks []string, force bool) ([]string, error) {
	if len(hooks) == 0 {
		hooks = KnownHooks
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create hooks dir: %w", err)
	}

	var written []string
	for _, hook := range hooks {
		if !isKnown(hook) {
			return written, fmt.Errorf("unknown hook %q", hook)
		}

		path := filepath.Join(b.dir, hook)
		state := b.inspect(path)
		if state == StateForeign && !force {
			b.logger.Warn(context.Background(), "skipping foreign hook", zap.String("hook", hook), zap.String("path", path))
			continue
		}

		if err := os.WriteFile(path, []byte(script(hook)), 0o755); err != nil {
			return written, fmt.Errorf("failed to write hook %s: %w", hook, err)
		}
		written = append(written, hook)
		b.logger.Info(context.Background(), "hook installed", zap.String("hook", hook), zap.String("path", path))
	}

	return written, nil
}

// Uninstall removes managed scripts for the given hooks. Foreign and
// absent hooks are left untouched. Returns the list of hooks removed.
func (b *Bridge) Uninstall(hooks []string) ([]string, error) {
	if len(hooks) == 0 {
		hooks = KnownHooks
	}

	var removed []string
	for _, hook := range hooks {
		if !isKnown(hook) {
			return removed, fmt.Errorf("unknown hook %q", hook)
		}

		path := filepath.Join(b.dir, hook)
		if b.inspect(path) != StateInstalled {
			continue
		}

		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove hook %s: %w", hook, err)
		}
		removed = append(removed, hook)
		b.logger.Info(context.Background(), "hook removed", zap.String("hook", hook), zap.String("path", path))
	}

	return removed, nil
}

// Status reports the state of every known hook.
func (b *Bridge) Status() map[string]State {
	out := make(map[string]State, len(KnownHooks))
	for _, hook := range KnownHooks {
		out[hook] = b.inspect(filepath.Join(b.dir, hook))
	}
	return out
}

func (b *Bridge) inspect(path string) State {
	data, err := os.ReadFile(path)
	if err != nil {
		return StateAbsent
	}
	if strings.Contains(string(data), Banner) {
		return StateInstalled
	}
	return StateForeign
}

func isKnown(hook string) bool {
	for _, k := range KnownHooks {
		if k == hook {
			return true
		}
	}
	return false
}

// script renders the managed hook body. The comment banner is what Install
// and Uninstall match on; the echo line is what the git user sees before
// the checks run. The commit-msg hook forwards the message file path git
// passes as $1; the other hooks take no arguments.
func script(hook string) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	sb.WriteString(Banner + "\n")
	fmt.Fprintf(&sb, "echo \"gated: running %s checks\" >&2\n", hook)

	if hook == "commit-msg" {
		sb.WriteString("GATED_COMMIT_MSG_FILE=\"$1\"\n")
		sb.WriteString("export GATED_COMMIT_MSG_FILE\n")
	}
	fmt.Fprintf(&sb, "exec gatectl run --trigger %s\n", hook)

	return sb.String()
}
