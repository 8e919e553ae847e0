package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/clip-tender/app"
	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/crypto"
	"github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/ledger"
	"github.com/onnwee/clip-tender/twitchapi"
	"github.com/onnwee/clip-tender/worker"
	"github.com/onnwee/clip-tender/youtubeapi"
)

// newApp and openApp are variables so tests can substitute collaborators.
var (
	newApp  = func(ctx context.Context, cfg *config.Config) (*app.App, error) { return app.New(ctx, cfg) }
	openApp = func(ctx context.Context, cfg *config.Config) (*app.App, error) { return app.Open(ctx, cfg) }
)

// --- run ---

func (c *cli) runCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once in the foreground",
		Long: `Run fetches every configured creator and publishes pending clips, honouring
the daily upload cap and the pacing between uploads. Ctrl-C stops at the next
checkpoint; the next run resumes where this one stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *c.cfg
			cfg.RunInterval = 0
			if dryRun {
				cfg.PublishDryRun = true
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			w := a.Worker(cmd.Context())
			if err := w.Start(); err != nil {
				return err
			}
			if err := w.Wait(context.WithoutCancel(cmd.Context())); err != nil {
				return err
			}
			st := w.Status()
			out := cmd.OutOrStdout()
			printField(out, "Run", "%s (%s)", st.State, st.Last.RunState)
			printField(out, "Fetched", "%d creators, %d skipped, %d new clips", st.Last.Fetch.Fetched, st.Last.Fetch.Skipped, st.Last.Fetch.ItemsAdded)
			printField(out, "Published", "%d of %d pending, %d failed, %d missing media",
				st.Last.Publish.Published, st.Last.Publish.Pending, st.Last.Publish.Failed, st.Last.Publish.MissingMedia)
			switch st.State {
			case worker.Failed:
				return errors.New(st.LastError)
			case worker.Cancelled:
				printWarning("run stopped early; the next run resumes it")
			default:
				printSuccess("run complete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record clips as published without uploading")
	return cmd
}

// --- status ---

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show catalog progress and the configured creators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			total, published, pending, err := a.Progress(cmd.Context())
			if err != nil {
				return err
			}
			st, err := a.Settings.Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printField(out, "Catalog", "%d clips", total)
			printField(out, "Published", "%d", published)
			printField(out, "Pending", "%d", pending)
			printField(out, "Creators", "%s", strings.Join(st.Creators, ", "))
			printField(out, "Limits", "%d uploads/day, %d clips per creator", st.MaxUploadsPerDay, st.VideosPerCreator)
			if runs, err := a.Runs.RecentRuns(cmd.Context(), 1); err == nil && len(runs) == 1 {
				printField(out, "Last run", "%s at %s", runs[0].State, runs[0].StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

// --- creators ---

func (c *cli) settings() *config.SettingsStore { return config.NewSettingsStore(c.cfg.SettingsPath) }

func (c *cli) creatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creators",
		Short: "List or edit the creators harvested each run",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured creators",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				st, err := c.settings().Load()
				if err != nil {
					return err
				}
				for _, h := range st.Creators {
					fmt.Fprintln(cmd.OutOrStdout(), h)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <handle>...",
			Short: "Add creators by TikTok handle",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store := c.settings()
				for _, h := range args {
					if _, err := store.AddCreator(h); err != nil {
						if errors.Is(err, config.ErrCreatorExists) {
							printWarning("%v", err)
							continue
						}
						return err
					}
					printSuccess("added %s", h)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <handle>...",
			Short: "Remove creators",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store := c.settings()
				for _, h := range args {
					if _, err := store.RemoveCreator(h); err != nil {
						return err
					}
					printSuccess("removed %s", h)
				}
				return nil
			},
		},
	)
	return cmd
}

// --- config ---

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the per-run limits",
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the settings file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := c.settings().Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printField(out, "File", "%s", c.cfg.SettingsPath)
			printField(out, "max_uploads_per_day", "%d", st.MaxUploadsPerDay)
			printField(out, "videos_per_creator", "%d", st.VideosPerCreator)
			printField(out, "creators", "%d", len(st.Creators))
			return nil
		},
	}
	var uploads, downloads int
	set := &cobra.Command{
		Use:   "set",
		Short: "Set max uploads per day and clips fetched per creator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("uploads") && !cmd.Flags().Changed("downloads") {
				return errors.New("one of --uploads or --downloads is required")
			}
			st, err := c.settings().Update(func(s *config.Settings) error {
				if cmd.Flags().Changed("uploads") {
					s.MaxUploadsPerDay = uploads
				}
				if cmd.Flags().Changed("downloads") {
					s.VideosPerCreator = downloads
				}
				return s.Validate()
			})
			if err != nil {
				return err
			}
			printSuccess("settings updated: %d uploads/day, %d clips per creator", st.MaxUploadsPerDay, st.VideosPerCreator)
			return nil
		},
	}
	set.Flags().IntVar(&uploads, "uploads", 0, "max uploads per day (0 = uncapped)")
	set.Flags().IntVar(&downloads, "downloads", 0, "clips fetched per creator per run")
	cmd.AddCommand(show, set)
	return cmd
}

// --- runs ---

func (c *cli) runsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			runs, err := a.Runs.RecentRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "RUN\tSTATE\tSTARTED\tDURATION\tPUBLISHED\tFAILED\tERROR")
			for _, r := range runs {
				dur := "-"
				if !r.FinishedAt.IsZero() {
					dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", shortID(r.RunID), r.State, r.StartedAt.Format(time.RFC3339), dur, r.Published, r.Failed, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- migrate ---

func (c *cli) migrateCmd() *cobra.Command {
	connect := func() (*db.DB, error) { return db.Connect(c.cfg.DBDsn, c.cfg.DataDir) }
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := connect()
			if err != nil {
				return err
			}
			defer d.Close()
			if err := db.Migrate(cmd.Context(), d); err != nil {
				return err
			}
			v, _, err := db.MigrationVersion(cmd.Context(), d)
			if err != nil {
				return err
			}
			printSuccess("%s schema at version %d", d.Dialect, v)
			return nil
		},
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Print the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := connect()
				if err != nil {
					return err
				}
				defer d.Close()
				v, dirty, err := db.MigrationVersion(cmd.Context(), d)
				if err != nil {
					return err
				}
				printField(cmd.OutOrStdout(), "Dialect", "%s", d.Dialect)
				printField(cmd.OutOrStdout(), "Version", "%d", v)
				printField(cmd.OutOrStdout(), "Dirty", "%s", strconv.FormatBool(dirty))
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest Postgres migration (development only)",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := connect()
				if err != nil {
					return err
				}
				defer d.Close()
				if d.Dialect != db.Postgres {
					return errors.New("migrate down is only supported on postgres")
				}
				if err := db.MigrateDown(d.DB); err != nil {
					return err
				}
				printSuccess("rolled back one migration")
				return nil
			},
		},
	)
	return cmd
}

// --- tokens ---

func (c *cli) tokensCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Inspect and maintain stored OAuth tokens",
	}
	var dryRun bool
	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt tokens stored before ENCRYPTION_KEY was set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := os.Getenv("ENCRYPTION_KEY")
			if key == "" {
				return errors.New("ENCRYPTION_KEY is required")
			}
			enc, err := crypto.NewAESEncryptor(key)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			done, err := db.EncryptPlaintextTokens(cmd.Context(), a.DB, enc, dryRun)
			if err != nil {
				return err
			}
			switch {
			case len(done) == 0:
				printSuccess("no plaintext tokens found")
			case dryRun:
				printWarning("would encrypt: %s", strings.Join(done, ", "))
			default:
				printSuccess("encrypted: %s", strings.Join(done, ", "))
			}
			return nil
		},
	}
	encrypt.Flags().BoolVar(&dryRun, "dry-run", false, "list tokens without changing them")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show which providers have stored tokens and when they expire",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			tw := newTable(cmd.OutOrStdout())
			fmt.Fprintln(tw, "PROVIDER\tACCESS\tREFRESH\tEXPIRES")
			for _, p := range []string{youtubeapi.Provider, twitchapi.Provider} {
				access, refresh, expiry, _, err := a.Tokens.GetOAuthToken(cmd.Context(), p)
				if err != nil {
					return err
				}
				exp := "-"
				if !expiry.IsZero() {
					exp = expiry.Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%s\t%t\t%t\t%s\n", p, access != "", refresh != "", exp)
			}
			return tw.Flush()
		},
	}
	cmd.AddCommand(encrypt, status)
	return cmd
}

// --- ledger ---

// ledgerSet picks the fetched or published set from mutually exclusive flags.
func ledgerSet(l *ledger.Ledger, fetched, published bool) (ledger.Set, string, error) {
	switch {
	case fetched && published:
		return nil, "", errors.New("--fetched and --published are mutually exclusive")
	case fetched:
		return l.Fetched, "fetched creators", nil
	case published:
		return l.Published, "published clips", nil
	default:
		return nil, "", errors.New("one of --fetched or --published is required")
	}
}

func (c *cli) ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or reset run progress",
		Long: `The ledger holds two sets: creators already fetched in the current run
and clips ever published. Resetting the published set makes every catalog
clip eligible for upload again.`,
	}
	var showFetched, showPublished bool
	show := &cobra.Command{
		Use:   "show",
		Short: "List the members of a progress set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			set, _, err := ledgerSet(a.Ledger, showFetched, showPublished)
			if err != nil {
				return err
			}
			ids, err := set.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	show.Flags().BoolVar(&showFetched, "fetched", false, "creators fetched in the current run")
	show.Flags().BoolVar(&showPublished, "published", false, "clips already published")

	var resetFetched, resetPublished, yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Clear a progress set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if resetPublished && !yes {
				return errors.New("resetting the published set can cause duplicate uploads; pass --yes to confirm")
			}
			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			set, name, err := ledgerSet(a.Ledger, resetFetched, resetPublished)
			if err != nil {
				return err
			}
			if err := set.Reset(cmd.Context()); err != nil {
				return err
			}
			printSuccess("cleared %s", name)
			return nil
		},
	}
	reset.Flags().BoolVar(&resetFetched, "fetched", false, "re-fetch every creator on the next run")
	reset.Flags().BoolVar(&resetPublished, "published", false, "forget which clips were published")
	reset.Flags().BoolVar(&yes, "yes", false, "confirm a destructive reset")
	cmd.AddCommand(show, reset)
	return cmd
}
