// Package cli implements the kalatori operator command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/kalatori/internal/config"
	"github.com/punchamoorthee/kalatori/internal/kalatori"
	"github.com/punchamoorthee/kalatori/internal/logging"
)

type app struct {
	configPath string
	baseURL    string
	output     string
	verbose    bool

	cfg    *config.Config
	client *kalatori.Client
	log    logging.Logger

	// mu serializes writes; monitor events arrive on timer goroutines.
	mu  sync.Mutex
	out io.Writer
}

// NewRootCommand builds the command tree writing to out.
func NewRootCommand(version string, out io.Writer) *cobra.Command {
	a := &app{out: out, log: logging.Nop{}}

	root := &cobra.Command{
		Use:           "kalatori",
		Short:         "Operate orders against a Kalatori payment daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.baseURL, "base-url", "", "Daemon base URL (overrides config)")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "json", "Output format: json or yaml")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log requests and polls to stderr")

	root.AddCommand(a.statusCmd())
	root.AddCommand(a.orderCmd())
	root.AddCommand(a.watchCmd())

	return root
}

// Execute runs the CLI against stdout. An interrupt cancels the running
// command, which stops any monitoring session it owns.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(version, os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func (a *app) setup() error {
	if a.output != "json" && a.output != "yaml" {
		return fmt.Errorf("unknown output format %q", a.output)
	}

	cfg, err := config.Load(a.configPath, func(c *config.Config) {
		if a.baseURL != "" {
			c.Kalatori.BaseURL = a.baseURL
		}
	})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.client = kalatori.New(cfg.Kalatori)
	if a.verbose {
		a.log = logging.NewWriterLogger(os.Stderr)
	}
	return nil
}

// monitorFlags registers the polling overrides shared by watch commands.
func monitorFlags(cmd *cobra.Command, interval *time.Duration, maxAttempts *int) {
	cmd.Flags().DurationVar(interval, "interval", 0, "Poll interval (default from config)")
	cmd.Flags().IntVar(maxAttempts, "max-attempts", 0, "Poll attempt budget (default from config)")
}
