package githooks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstall_WritesExecutableScripts(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, nil)

	written, err := b.Install(nil, false)
	require.NoError(t, err)
	assert.ElementsMatch(t, KnownHooks, written)

	for _, hook := range KnownHooks {
		path := filepath.Join(dir, hook)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&0o100, "%s must be executable", hook)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		content := string(data)
		assert.True(t, strings.HasPrefix(content, "#!/bin/sh\n"))
		assert.Contains(t, content, Banner)
		assert.Contains(t, content, `echo "gated: running `+hook+` checks" >&2`,
			"hook announces itself to the git user")
		assert.Contains(t, content, "gatectl run --trigger "+hook)
	}
}

func TestInstall_Idempotent(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, nil)

	_, err := b.Install([]string{"pre-push"}, false)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(dir, "pre-push"))
	require.NoError(t, err)

	written, err := b.Install([]string{"pre-push"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"pre-push"}, written, "managed hooks are rewritten")

	second, err := os.ReadFile(filepath.Join(dir, "pre-push"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInstall_PreservesForeignHook(t *testing.T) {
	dir := t.TempDir()
	foreign := "#!/bin/sh\necho hand-written\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pre-commit"), []byte(foreign), 0o755))

	b := New(dir, nil)
	written, err := b.Install([]string{"pre-commit"}, false)
	require.NoError(t, err)
	assert.Empty(t, written)

	data, err := os.ReadFile(filepath.Join(dir, "pre-commit"))
	require.NoError(t, err)
	assert.Equal(t, foreign, string(data), "foreign hook untouched without force")

	// Force overwrites.
	written, err = b.Install([]string{"pre-commit"}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"pre-commit"}, written)
}

func TestInstall_UnknownHook(t *testing.T) {
	b := New(t.TempDir(), nil)
	_, err := b.Install([]string{"post-merge"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "post-merge")
}

func TestUninstall_OnlyRemovesManagedHooks(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, nil)

	_, err := b.Install([]string{"pre-commit", "pre-push"}, false)
	require.NoError(t, err)

	foreign := "#!/bin/sh\necho custom\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "commit-msg"), []byte(foreign), 0o755))

	removed, err := b.Uninstall(nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pre-commit", "pre-push"}, removed)

	_, err = os.Stat(filepath.Join(dir, "pre-commit"))
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(dir, "commit-msg"))
	require.NoError(t, err)
	assert.Equal(t, foreign, string(data), "foreign hook survives uninstall")
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, nil)

	_, err := b.Install([]string{"pre-push"}, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pre-commit"), []byte("#!/bin/sh\n"), 0o755))

	status := b.Status()
	assert.Equal(t, StateInstalled, status["pre-push"])
	assert.Equal(t, StateForeign, status["pre-commit"])
	assert.Equal(t, StateAbsent, status["post-commit"])
	assert.Equal(t, StateAbsent, status["commit-msg"])
}

func TestCommitMsgHook_ForwardsMessageFile(t *testing.T) {
	assert.Contains(t, script("commit-msg"), `GATED_COMMIT_MSG_FILE="$1"`)
	assert.NotContains(t, script("pre-commit"), "GATED_COMMIT_MSG_FILE")
}

func TestFindHooksDir(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "hooks"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	dir, err := FindHooksDir(nested)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".git", "hooks"), dir)
}

func TestFindHooksDir_Worktree(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, "repos", "main.git")
	require.NoError(t, os.MkdirAll(gitDir, 0o755))

	wt := filepath.Join(root, "wt")
	require.NoError(t, os.MkdirAll(wt, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wt, ".git"), []byte("gitdir: "+gitDir+"\n"), 0o644))

	dir, err := FindHooksDir(wt)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(gitDir, "hooks"), dir)
}
