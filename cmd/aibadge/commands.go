package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/aibadge"
	"github.com/hazyhaar/aibadge/confirm"
	"github.com/hazyhaar/aibadge/disclosure"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	gray   = color.New(color.FgHiBlack)
	bold   = color.New(color.Bold)
)

func newCheckCommand(f *flags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check <id>...",
		Short: "Confirm application identifiers against their detail pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := f.load()
			if err != nil {
				return err
			}
			eng, _, closeEngine, err := openEngine(cfg, f.logger(), nil)
			if err != nil {
				return err
			}
			defer closeEngine()

			eng.Load(ctx)
			out, err := eng.Check(ctx, args)
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndented(cmd.OutOrStdout(), out)
			}
			for _, st := range out {
				printStatus(cmd.OutOrStdout(), st)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printStatus(w io.Writer, st aibadge.IDStatus) {
	switch {
	case st.State == confirm.StateConfirmed:
		fmt.Fprintf(w, "%s  %s\n", st.ID, green.Sprint("AI (confirmed)"))
	case st.Known:
		fmt.Fprintf(w, "%s  %s\n", st.ID, green.Sprint("AI"))
	case st.State == confirm.StateFailed:
		fmt.Fprintf(w, "%s  %s\n", st.ID, red.Sprint("lookup failed"))
	default:
		fmt.Fprintf(w, "%s  %s\n", st.ID, gray.Sprint("no disclosure"))
	}
}

func newRefreshCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Reload the identifier list from the remote source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := f.load()
			if err != nil {
				return err
			}
			eng, _, closeEngine, err := openEngine(cfg, f.logger(), nil)
			if err != nil {
				return err
			}
			defer closeEngine()

			set, err := eng.Refresh(ctx)
			w := cmd.OutOrStdout()
			if err != nil {
				fmt.Fprintf(w, "%s %d identifiers kept (%s)\n", yellow.Sprint("stale:"), set.Len(), err)
				return nil
			}
			fmt.Fprintf(w, "%s %d identifiers, fetched %s\n",
				green.Sprint("refreshed:"), set.Len(), set.FetchedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newMatchCommand(f *flags) *cobra.Command {
	var text bool
	cmd := &cobra.Command{
		Use:   "match <file|->",
		Short: "Evaluate a saved detail page (or, with --text, a heading) for an AI disclosure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			eval := disclosure.NewEvaluator(disclosure.NewMatcher(cfg.EffectiveRules()))

			var res disclosure.Result
			if text {
				res = eval.EvaluateText(args[0])
			} else {
				data, err := readInput(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				res = eval.Evaluate(data)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().BoolVar(&text, "text", false, "treat the argument as heading text")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(name)
}

func printResult(w io.Writer, res disclosure.Result) {
	if !res.Present {
		fmt.Fprintf(w, "%s %s\n", gray.Sprint("absent:"), res.Reason)
		return
	}
	fmt.Fprintf(w, "%s %s (%s %q)\n", green.Sprint("present:"), bold.Sprint(res.Heading), res.Match.Rule, res.Match.Term)
	if res.Markdown != "" {
		fmt.Fprintf(w, "\n%s\n", res.Markdown)
	}
}

func newHistoryCommand(f *flags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show journalled lookups, for one identifier or as outcome totals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			_, st, closeEngine, err := openEngine(cfg, f.logger(), nil)
			if err != nil {
				return err
			}
			defer closeEngine()

			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			if len(args) == 0 {
				counts, err := st.OutcomeCounts(ctx)
				if err != nil {
					return err
				}
				return writeIndented(w, counts)
			}

			rows, err := st.RecentLookups(ctx, args[0], limit)
			if err != nil {
				return err
			}
			for _, r := range rows {
				at := time.UnixMilli(r.CreatedAt).Format(time.RFC3339)
				outcome := r.Outcome
				switch confirm.State(r.Outcome) {
				case confirm.StateConfirmed:
					outcome = green.Sprint(outcome)
				case confirm.StateFailed:
					outcome = red.Sprint(outcome)
				}
				fmt.Fprintf(w, "%s  %-14s status=%d elapsed=%dms %s\n", at, outcome, r.Status, r.ElapsedMS, r.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	return cmd
}

func newMCPCommand(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the aibadge tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			cfg, err := f.load()
			if err != nil {
				return err
			}
			eng, _, closeEngine, err := openEngine(cfg, f.logger(), nil)
			if err != nil {
				return err
			}
			defer closeEngine()
			eng.Load(ctx)

			srv := mcp.NewServer(&mcp.Implementation{Name: "aibadge", Version: version}, nil)
			eng.RegisterMCP(srv)
			return srv.Run(ctx, &mcp.StdioTransport{})
		},
	}
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

