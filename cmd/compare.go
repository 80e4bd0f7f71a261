package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ikun245/telegram-linkstools/internal/linkset"
)

func newCompareCmd() *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "compare FILE1 FILE2",
		Short: "Compare the link sets of two files",
		Long: `Extracts the Telegram links from both files and reports which links
appear only in the first, only in the second, and in both. With --prune the
first file is rewritten without the links it shares with the second.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys := afero.NewOsFs()
			diff, err := linkset.Compare(fsys, args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printSection(out, fmt.Sprintf("Only in %s (%d):", args[0], len(diff.OnlyFirst)), diff.OnlyFirst)
			printSection(out, fmt.Sprintf("Only in %s (%d):", args[1], len(diff.OnlySecond)), diff.OnlySecond)
			printSection(out, fmt.Sprintf("In both (%d):", len(diff.Both)), diff.Both)

			if prune && len(diff.Both) > 0 {
				links, err := linkset.Load(fsys, args[0])
				if err != nil {
					return err
				}
				kept := linkset.Filter(links, diff.Both)
				if err := linkset.Write(fsys, args[0], kept); err != nil {
					return err
				}
				fmt.Fprintf(out, "Removed %d shared links from %s (%d kept)\n", len(diff.Both), args[0], len(kept))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "rewrite FILE1 without the links shared with FILE2")
	return cmd
}

func printSection(w io.Writer, header string, links []string) {
	fmt.Fprintln(w, header)
	for _, link := range links {
		fmt.Fprintf(w, "  %s\n", link)
	}
	fmt.Fprintln(w)
}
