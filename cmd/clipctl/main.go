// Command clipctl is the operator CLI: run the pipeline once in the
// foreground, inspect progress and run history, edit the settings file and
// manage the database schema and stored tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}

// cli carries state shared by subcommands; PersistentPreRunE fills it.
type cli struct {
	envFile  string
	logLevel string
	cfg      *config.Config
	closeLog func()
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "clipctl",
		Short:         "Operate the clip republishing pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.envFile != "" {
				if err := godotenv.Load(c.envFile); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("load %s: %w", c.envFile, err)
				}
			}
			opts, err := logging.OptionsFromEnv()
			if err != nil {
				return err
			}
			if c.logLevel != "" {
				if opts.Level, err = logging.ParseLevel(c.logLevel, opts.Level); err != nil {
					return err
				}
			}
			_, closeLog, err := logging.Setup(cmd.ErrOrStderr(), opts)
			if err != nil {
				return err
			}
			c.closeLog = closeLog
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.closeLog != nil {
				c.closeLog()
			}
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		c.runCmd(),
		c.statusCmd(),
		c.creatorsCmd(),
		c.configCmd(),
		c.runsCmd(),
		c.ledgerCmd(),
		c.migrateCmd(),
		c.tokensCmd(),
	)
	return root
}
