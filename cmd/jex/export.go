package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/h0rv/jex/internal/cache"
	"github.com/h0rv/jex/internal/config"
	"github.com/h0rv/jex/internal/domain"
	"github.com/h0rv/jex/internal/entity"
	"github.com/h0rv/jex/internal/export"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newExportCmd(v *viper.Viper) *cobra.Command {
	var (
		jql          string
		format       string
		output       string
		include      []string
		exclude      []string
		withHistory  bool
		historyField string
		withUsers    bool
		userMap      string
		templates    string
		open         bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the issues matching a JQL query",
		Long: `Export the issues matching a JQL query as one CSV table or as a JSON
document grouped by project.

Pages whose columns differ (multi-valued fields repeat their column once per
value) are merged into one schema; missing cells are left empty.

Examples:
  jex export --jql "project = IT" --format csv
  jex export --jql "project in (IT, OPS)" --format json --with-users --open`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(v)
			if err != nil {
				return err
			}

			if output == "" {
				output = "export." + format
			}
			job := export.Job{
				Query:         jql,
				PageSize:      rt.cfg.PageSize,
				Format:        domain.OutputFormat(strings.ToLower(format)),
				Policy:        domain.FieldPolicy{Include: include, Exclude: exclude},
				Output:        output,
				WithHistory:   withHistory,
				HistoryField:  historyField,
				WithUsers:     withUsers,
				DateFormat:    rt.cfg.DateFormat,
				TemplatesFile: templates,
			}
			if userMap != "" {
				if job.UserOverrides, err = entity.LoadOverrides(userMap); err != nil {
					return err
				}
			}
			if err := job.Validate(); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			exporter := export.New(rt.client, export.Options{
				WorkDir:      rt.cfg.WorkDir,
				Workers:      rt.cfg.Workers,
				Cache:        cache.Open(rt.cfg.CacheFile, rt.cfg.CacheTTL(), rt.log),
				Prompter:     prompter(rt.log),
				BuildTimeout: rt.cfg.FlushTimeout,
				Logger:       rt.log,
			})
			res, err := exporter.Run(ctx, job)
			if err != nil {
				return interrupted(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d rows from %d pages to %s\n", res.Rows, res.Pages, res.Output)
			if res.Projects > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d issues in %d projects\n", res.Issues, res.Projects)
			}
			if open {
				path, err := filepath.Abs(res.Output)
				if err != nil {
					return err
				}
				if err := browser.OpenFile(path); err != nil {
					rt.log.Warn().Err(err).Msg("cannot open export")
				}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&jql, "jql", "", "JQL query selecting the issues (required)")
	f.StringVar(&format, "format", string(domain.FormatCSV), "output format: csv or json")
	f.StringVarP(&output, "output", "o", "", "output file (default export.<format>)")
	f.StringSliceVar(&include, "include", nil, "keep only these columns")
	f.StringSliceVar(&exclude, "exclude", nil, "drop these columns")
	f.BoolVar(&withHistory, "with-history", false, "add each issue's change history (json)")
	f.StringVar(&historyField, "history-field", "", "limit history to one field")
	f.BoolVar(&withUsers, "with-users", false, "add the user directory with group memberships (json)")
	f.StringVar(&userMap, "user-map", "", "YAML file mapping ambiguous display names to account ids")
	f.StringVar(&templates, "templates", "", "YAML file mapping projects to templates and workflows (json)")
	f.BoolVar(&open, "open", false, "open the finished export")
	f.String("date-format", "", "Go time layout of dates in the export (default \""+config.DefaultDateFormat+"\")")
	_ = cmd.MarkFlagRequired("jql")
	cmd.MarkFlagsMutuallyExclusive("include", "exclude")
	mustBind(v, config.KeyDateFormat, f.Lookup("date-format"))

	return cmd
}
