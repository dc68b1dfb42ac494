package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/thiagokokada/gitctx/internal/assemble"
)

func newAssembleCmd(a *app) *cobra.Command {
	var (
		opts         assemble.Options
		instructions string
		output       string
		full         bool
	)
	cmd := &cobra.Command{
		Use:   "assemble <base> <compare> [path...]",
		Short: "Write a markdown context document for the changes between two refs",
		Long: `Write a markdown document with the git context, an optional file tree,
and a unified diff or full content for each selected file. Without paths every
changed file is included.

--instructions takes text, or @file to read it from a file.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Base, opts.Compare, opts.Paths = args[0], args[1], args[2:]
			text, err := readInstructions(instructions)
			if err != nil {
				return err
			}
			opts.Instructions = text
			switch {
			case full:
				opts.Context = assemble.FullContext
			case opts.Context == 0:
				opts.Context = -1
			}

			c, done, err := a.openRepo(cmd.Context())
			if err != nil {
				return err
			}
			defer done()
			doc, err := assemble.Build(cmd.Context(), c, opts)
			if err != nil {
				return err
			}

			if err := writeDocument(cmd.OutOrStdout(), output, doc.Text); err != nil {
				return err
			}
			slog.Info("context assembled",
				slog.Int("files", doc.Files),
				slog.Int("bytes", doc.Bytes),
				slog.Int("lines", doc.Lines),
			)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&instructions, "instructions", "", "instructions placed first in the document")
	flags.BoolVar(&opts.FileTree, "tree", true, "include a tree of the selected files")
	flags.BoolVar(&opts.IncludeBinary, "include-binary", false, "list binary files by name")
	flags.IntVarP(&opts.Context, "context", "U", assemble.DefaultContext, "unified diff context lines")
	flags.BoolVar(&full, "full", false, "show whole files in diffs")
	flags.StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func writeDocument(stdout io.Writer, output, text string) error {
	if output == "" || output == "-" {
		_, err := io.WriteString(stdout, text)
		return err
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, text); err != nil {
		return errors.Join(fmt.Errorf("write document: %w", err), f.Close())
	}
	return f.Close()
}

func readInstructions(s string) (string, error) {
	if len(s) == 0 || s[0] != '@' {
		return s, nil
	}
	data, err := os.ReadFile(s[1:])
	if err != nil {
		return "", fmt.Errorf("read instructions: %w", err)
	}
	return string(data), nil
}
