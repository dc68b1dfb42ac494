package cmd

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thiagokokada/gitctx/internal/git"
)

func newBranchesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List local branches; * marks HEAD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, done, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			branches, err := c.ListBranches(cmd.Context())
			if err != nil {
				return err
			}
			return printBranches(cmd.OutOrStdout(), branches)
		},
	}
}

func printBranches(out io.Writer, b git.Branches) error {
	for _, name := range b.Names {
		marker := "  "
		if name == b.Current {
			marker = "* "
		}
		suffix := ""
		if name == b.DefaultBranch {
			suffix = " (default)"
		}
		if _, err := fmt.Fprintf(out, "%s%s%s\n", marker, name, suffix); err != nil {
			return err
		}
	}
	return nil
}

func newDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <base> <compare>",
		Short: "Print the paths that differ between two refs",
		Long: `Print the paths that differ between two refs in git's name-status form.
Either ref may be ` + git.WorkdirRef + ` to use the working tree.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			changes, err := c.Diff(cmd.Context(), args[0], args[1], nil)
			if err != nil {
				return err
			}
			return printChanges(cmd.OutOrStdout(), changes)
		},
	}
}

var statusLetter = map[git.ChangeType]string{
	git.ChangeAdd:    "A",
	git.ChangeModify: "M",
	git.ChangeRemove: "D",
}

func printChanges(out io.Writer, changes []git.DiffEntry) error {
	sorted := slices.Clone(changes)
	slices.SortFunc(sorted, func(x, y git.DiffEntry) int { return strings.Compare(x.Path, y.Path) })
	for _, ch := range sorted {
		if _, err := fmt.Fprintf(out, "%s\t%s\n", statusLetter[ch.Type], ch.Path); err != nil {
			return err
		}
	}
	return nil
}

func newFilesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "files [ref]",
		Short: "List the files at a ref, the working tree by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := git.WorkdirRef
			if len(args) == 1 {
				ref = args[0]
			}
			c, done, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			files, err := c.ListFiles(cmd.Context(), ref)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range files {
				if _, err := fmt.Fprintln(out, f); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

var errBinaryFile = errors.New("binary file")

func newReadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "read <ref> <path>",
		Short: "Print a text file as it is at a ref",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, path := args[0], args[1]
			c, done, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			res, err := c.ReadFile(cmd.Context(), ref, path)
			if err != nil {
				return err
			}
			switch {
			case res.NotFound:
				return fmt.Errorf("%s: not found at %s", path, ref)
			case res.Binary || res.Text == nil:
				return fmt.Errorf("%s: %w", path, errBinaryFile)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), *res.Text)
			return err
		},
	}
}

func newResolveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <ref>",
		Short: "Print the commit id a ref points to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			oid, err := c.ResolveRef(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), oid)
			return err
		},
	}
}
