package main

import (
	"bytes"
	"fmt"

	"github.com/h0rv/jex/internal/fetch"
	"github.com/h0rv/jex/internal/history"
	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	var (
		jql    string
		field  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Export the change history of the issues matching a JQL query",
		Long: `Export one CSV row per changed field per history entry of every issue
matching a JQL query, optionally limited to one field.

Examples:
  jex history --jql "project = IT" --field status -o status-changes.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(v)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			if err := rt.client.CheckAuth(ctx); err != nil {
				return err
			}

			x := history.New(rt.client, history.Options{
				Query:    jql,
				Field:    field,
				PageSize: rt.cfg.PageSize,
				Dir:      rt.cfg.WorkDir,
				Prompter: prompter(rt.log),
				Retrier:  &fetch.Retrier{Logger: rt.log},
				Logger:   rt.log,
			})
			job, resumed, err := x.Start()
			if err != nil {
				return err
			}
			if resumed {
				rt.log.Info().Msg("resuming history export")
			}

			records, err := job.Records(ctx)
			if err != nil {
				return interrupted(err)
			}

			var buf bytes.Buffer
			if err := history.WriteCSV(&buf, records); err != nil {
				return err
			}
			if err := atomic.WriteFile(output, &buf); err != nil {
				return fmt.Errorf("write history %s: %w", output, err)
			}
			if err := job.Complete(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d history records to %s\n", len(records), output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&jql, "jql", "", "JQL query selecting the issues (required)")
	f.StringVar(&field, "field", "", "keep only changes of this field")
	f.StringVarP(&output, "output", "o", "history.csv", "output file")
	_ = cmd.MarkFlagRequired("jql")

	return cmd
}
