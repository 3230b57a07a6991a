package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/gated/internal/githooks"
)

var (
	hooksDir   string
	hooksNames []string
	hooksForce bool
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Manage the git hook bridge",
	Long: `Install, remove, or inspect the git hooks that run gatectl on
commits and pushes.

Managed hooks carry a banner line; hand-written hooks are never
overwritten without --force and never removed at all.`,
}

var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install managed git hooks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := hookBridge()
		if err != nil {
			return err
		}

		written, err := b.Install(hooksNames, hooksForce)
		if err != nil {
			return err
		}

		if len(written) == 0 {
			fmt.Println("no hooks installed (existing hooks are not managed by gatectl; use --force to overwrite)")
			return nil
		}
		fmt.Printf("installed: %s\n", strings.Join(written, ", "))
		return nil
	},
}

var hooksUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove managed git hooks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := hookBridge()
		if err != nil {
			return err
		}

		removed, err := b.Uninstall(hooksNames)
		if err != nil {
			return err
		}

		if len(removed) == 0 {
			fmt.Println("no managed hooks found")
			return nil
		}
		fmt.Printf("removed: %s\n", strings.Join(removed, ", "))
		return nil
	},
}

var hooksStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of each known hook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		b, err := hookBridge()
		if err != nil {
			return err
		}

		status := b.Status()
		for _, hook := range githooks.KnownHooks {
			fmt.Printf("  %-12s %s\n", hook, status[hook])
		}
		return nil
	},
}

func init() {
	hooksCmd.PersistentFlags().StringVar(&hooksDir, "dir", "", "hooks directory (default: discovered from the enclosing git repository)")
	hooksCmd.PersistentFlags().StringSliceVar(&hooksNames, "hooks", nil, "hook names to operate on (default: all known hooks)")
	hooksInstallCmd.Flags().BoolVar(&hooksForce, "force", false, "overwrite hooks not managed by gatectl")

	hooksCmd.AddCommand(hooksInstallCmd)
	hooksCmd.AddCommand(hooksUninstallCmd)
	hooksCmd.AddCommand(hooksStatusCmd)
}

func hookBridge() (*githooks.Bridge, error) {
	dir := hooksDir
	if dir == "" {
		found, err := githooks.FindHooksDir(".")
		if err != nil {
			return nil, err
		}
		dir = found
	}
	return githooks.New(dir, nil), nil
}
