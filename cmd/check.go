package cmd

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ikun245/telegram-linkstools/internal/check"
	"github.com/ikun245/telegram-linkstools/internal/clock/system"
	"github.com/ikun245/telegram-linkstools/internal/engine"
	"github.com/ikun245/telegram-linkstools/internal/fetcher/telegram"
	"github.com/ikun245/telegram-linkstools/internal/linkset"
	"github.com/ikun245/telegram-linkstools/internal/ratelimit"
	"github.com/ikun245/telegram-linkstools/internal/results"
)

func newCheckCmd() *cobra.Command {
	var (
		inputPath string
		reportOut string
		validOut  string
	)
	cmd := &cobra.Command{
		Use:   "check [links...]",
		Short: "Check Telegram links for validity",
		Long: `Checks the given links (arguments, a file, or stdin text) by fetching
their t.me preview pages. Requests honor the configured sliding-window rate
limit. Interrupting with Ctrl-C stops cooperatively: in-flight checks finish
and their results are included in the report.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck // best-effort flush

			fsys := afero.NewOsFs()
			links, err := gatherLinks(fsys, args, inputPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(links) == 0 {
				return fmt.Errorf("no links to check")
			}

			fetcher := telegram.New(telegram.Config{
				UserAgent: cfg.Fetcher.UserAgent,
				Timeout:   cfg.FetchTimeout(),
				HostRPS:   cfg.Fetcher.HostRPS,
				HostBurst: cfg.Fetcher.HostBurst,
			})
			limiter := ratelimit.New(ratelimit.Config{
				MaxRequests: cfg.Limiter.MaxRequests,
				Window:      cfg.LimiterWindow(),
			})
			eng := engine.New(engine.Config{
				Workers:     cfg.Engine.Workers,
				EventBuffer: cfg.Engine.EventBuffer,
			}, fetcher, limiter, system.New(), engine.WithLogger(logger))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				eng.Stop()
			}()

			events, err := eng.Start(ctx, links)
			if err != nil {
				return fmt.Errorf("start engine: %w", err)
			}

			out := cmd.OutOrStdout()
			agg := results.New()
			stopped := false
			for evt := range events {
				switch evt.Kind {
				case engine.EventResult:
					agg.Record(evt.Record)
					printResult(out, agg.Len(), len(links), evt.Record)
				case engine.EventStopped:
					stopped = true
				}
			}
			if stopped {
				fmt.Fprintln(out, "\nstopped; report covers completed checks only")
			}

			report := results.Report(agg.Snapshot())
			fmt.Fprint(out, "\n"+report)

			if reportOut != "" {
				if err := afero.WriteFile(fsys, reportOut, []byte(report), 0o644); err != nil {
					return fmt.Errorf("write report %s: %w", reportOut, err)
				}
			}
			if validOut != "" {
				if err := linkset.Write(fsys, validOut, results.ValidLinks(agg.Snapshot())); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "file to read links from")
	cmd.Flags().StringVarP(&reportOut, "output", "o", "", "write the report to a file")
	cmd.Flags().StringVar(&validOut, "save-valid", "", "write valid links to a file, one per line")
	return cmd
}

// gatherLinks collects links from arguments, an input file, or stdin text, in
// that priority order. File and stdin input is one raw link per line; bare
// usernames are accepted and left to the normalizer.
func gatherLinks(fsys afero.Fs, args []string, inputPath string, stdin io.Reader) ([]string, error) {
	if len(args) > 0 {
		return linkset.Dedupe(args), nil
	}
	if inputPath != "" {
		data, err := afero.ReadFile(fsys, inputPath)
		if err != nil {
			return nil, fmt.Errorf("read link file %s: %w", inputPath, err)
		}
		return splitLinkLines(string(data)), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return splitLinkLines(string(data)), nil
}

func splitLinkLines(text string) []string {
	var links []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		links = append(links, line)
	}
	return linkset.Dedupe(links)
}

func printResult(w io.Writer, done, total int, rec check.Record) {
	detail := rec.DisplayName
	if rec.Status == check.StatusError {
		detail = rec.Message
	}
	if rec.RedirectedTo != "" {
		detail += " -> " + rec.RedirectedTo
	}
	fmt.Fprintf(w, "[%d/%d] %-8s %s  %s\n", done, total, rec.Status, rec.Canonical, detail)
}
