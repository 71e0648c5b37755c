package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/h0rv/jex/internal/auth"
	"github.com/h0rv/jex/internal/config"
	"github.com/h0rv/jex/internal/jira"
	"github.com/h0rv/jex/internal/logging"
	"github.com/h0rv/jex/internal/paginate"
	"github.com/h0rv/jex/internal/tui"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	// Global flags
	cfgFile string
	resume  bool
	restart bool
)

// runtime is what every subcommand needs once flags and config are read.
type runtime struct {
	cfg    config.Config
	log    zerolog.Logger
	client *jira.Client
}

func main() {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "jex",
		Short: "Resumable Jira issue export",
		Long: `jex exports the issues matching a JQL query from Jira Cloud or
Jira Server/Data Center, page by page, as CSV or as nested JSON documents.

Progress is checkpointed after every page. An interrupted export picks up
where it stopped when run again with the same query.

Authentication:
  1. Config file: jira.email and jira.token in ~/.jex/config.yaml
  2. Environment: JIRA_EMAIL and JIRA_API_TOKEN (Cloud) or JIRA_PAT (Server)`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ~/.jex/config.yaml)")
	flags.String("url", "", "Jira base URL")
	flags.Int("page-size", 0, "rows requested per page")
	flags.String("work-dir", "", "directory for checkpoints and page files")
	flags.Int("workers", 0, "concurrent lookups")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&resume, "resume", false, "resume an unfinished job without asking")
	flags.BoolVar(&restart, "restart", false, "discard an unfinished job without asking")
	rootCmd.MarkFlagsMutuallyExclusive("resume", "restart")

	mustBind(v, config.KeyJiraURL, flags.Lookup("url"))
	mustBind(v, config.KeyPageSize, flags.Lookup("page-size"))
	mustBind(v, config.KeyWorkDir, flags.Lookup("work-dir"))
	mustBind(v, config.KeyWorkers, flags.Lookup("workers"))
	mustBind(v, config.KeyLogLevel, flags.Lookup("log-level"))

	rootCmd.AddCommand(newExportCmd(v))
	rootCmd.AddCommand(newHistoryCmd(v))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// setup reads the configuration and connects to Jira.
func setup(v *viper.Viper) (*runtime, error) {
	if resume && restart {
		return nil, errors.New("--resume and --restart cannot be used together")
	}
	if err := config.Init(v, cfgFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Options{Level: cfg.LogLevel, Console: cfg.LogConsole})

	creds, err := auth.GetCredentials(
		&auth.StaticProvider{Email: cfg.JiraEmail, Token: cfg.JiraToken},
		&auth.EnvProvider{},
	)
	if err != nil {
		return nil, err
	}
	client, err := jira.New(jira.Config{BaseURL: cfg.JiraURL, Credentials: creds, Cloud: cfg.Cloud})
	if err != nil {
		return nil, fmt.Errorf("failed to create Jira client: %w", err)
	}

	log.Debug().Str("url", cfg.JiraURL).Bool("cloud", cfg.Cloud).Msg("configured")
	return &runtime{cfg: cfg, log: log, client: client}, nil
}

// prompter picks how an unfinished checkpoint is handled: the flags decide
// when given, an interactive terminal asks, anything else resumes.
func prompter(log zerolog.Logger) paginate.Prompter {
	switch {
	case resume:
		return paginate.Always(paginate.DecisionResume)
	case restart:
		return paginate.Always(paginate.DecisionDiscard)
	case isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stderr.Fd()):
		return tui.Prompter{In: os.Stdin, Out: os.Stderr}
	}
	log.Info().Msg("no terminal; resuming any unfinished job")
	return paginate.Always(paginate.DecisionResume)
}

// signalContext is cancelled on interrupt, leaving the checkpoint for a
// later resume.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// interrupted rewrites a cancellation into a hint about resuming.
func interrupted(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("interrupted; run the same command again to resume: %w", err)
	}
	return err
}
