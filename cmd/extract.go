package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ikun245/telegram-linkstools/internal/check"
	"github.com/ikun245/telegram-linkstools/internal/linkset"
)

func newExtractCmd() *cobra.Command {
	var (
		inputPath  string
		outputPath string
		keepDupes  bool
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract Telegram links from text",
		Long: `Scans text (a file or stdin) for Telegram channel references, both
t.me URLs and @usernames, and prints them as canonical addresses.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fsys := afero.NewOsFs()

			var text []byte
			var err error
			if inputPath != "" {
				text, err = afero.ReadFile(fsys, inputPath)
				if err != nil {
					return fmt.Errorf("read %s: %w", inputPath, err)
				}
			} else {
				text, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}

			links := check.ExtractLinks(string(text))
			if !keepDupes {
				links = linkset.Dedupe(links)
			}

			if outputPath != "" {
				return linkset.Write(fsys, outputPath, links)
			}
			for _, link := range links {
				fmt.Fprintln(cmd.OutOrStdout(), link)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "file to scan (default stdin)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write links to a file instead of stdout")
	cmd.Flags().BoolVar(&keepDupes, "keep-duplicates", false, "keep duplicate links")
	return cmd
}
