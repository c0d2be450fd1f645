package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/schemakit/schemakit/cli/internal/config"
	"github.com/schemakit/schemakit/cli/internal/ui"
	"github.com/schemakit/schemakit/cli/internal/version"
	"github.com/schemakit/schemakit/cli/internal/watch"
	"github.com/schemakit/schemakit/migrate"
	"github.com/schemakit/schemakit/migrate/catalog"
	"github.com/schemakit/schemakit/migrate/lock"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations",
	Long:  "Plan, verify, and apply SQL migrations against the configured database.",
}

var (
	upLimit           int
	upTimeout         time.Duration
	upEnforcePrecheck bool
)

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Long:  "Apply all pending migrations in order, recording each in the ledger.",
	RunE:  runMigrateUp,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE:  runMigrateStatus,
}

var migrateDryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Plan and precheck pending migrations without applying them",
	RunE:  runMigrateDryRun,
}

var migrateVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check applied migrations for drift",
	RunE:  runMigrateVerify,
}

var migrateNewCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Create a new migration file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMigrateNew,
}

var migrateWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the migrations directory and re-report status on change",
	RunE:  runMigrateWatch,
}

func init() {
	migrateUpCmd.Flags().IntVar(&upLimit, "limit", 0, "Apply at most N pending migrations (0 = all)")
	migrateUpCmd.Flags().DurationVar(&upTimeout, "timeout", 0, "Per-migration timeout (0 = none)")
	migrateUpCmd.Flags().BoolVar(&upEnforcePrecheck, "enforce-precheck", false, "Precheck each migration in a rolled-back transaction and block on failure")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateDryRunCmd)
	migrateCmd.AddCommand(migrateVerifyCmd)
	migrateCmd.AddCommand(migrateNewCmd)
	migrateCmd.AddCommand(migrateWatchCmd)
	rootCmd.AddCommand(migrateCmd)
}

// newEngine builds an engine from the loaded configuration. The caller
// closes the returned cleanup.
func newEngine(opts migrate.Options) (*migrate.Engine, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, provider, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}

	opts.EngineVersion = version.Version
	source := catalog.NewDirSource(config.AppFs, cfg.MigrationsDir)
	engine := migrate.NewEngine(db, provider, source, opts)
	return engine, func() { db.Close() }, nil
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	ui.PrintHeader("schemakit", "Apply Migrations")

	engine, cleanup, err := newEngine(migrate.Options{
		PerUnitTimeout:  upTimeout,
		EnforcePrecheck: upEnforcePrecheck,
		Limit:           upLimit,
	})
	if err != nil {
		return err
	}
	defer cleanup()

	// Interrupts take effect between migrations, never mid-migration.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spinner, _ := ui.PrintSpinner("Applying migrations...")
	result, err := engine.Up(ctx)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return fmt.Errorf("another migration run is in progress; retry later")
		}
		if result != nil && result.Applied > 0 {
			ui.PrintWarning("Applied %d migration(s) before the failure", result.Applied)
		}
		return err
	}

	if result.Applied == 0 {
		ui.PrintInfo("Nothing to apply; database is up to date")
		return nil
	}
	for _, unit := range result.Planned[:result.Applied] {
		ui.PrintSuccess("Applied %s_%s", unit.ID, unit.Name)
	}
	ui.PrintSuccess("Applied %d migration(s)", result.Applied)
	return nil
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	ui.PrintHeader("schemakit", "Migration Status")

	engine, cleanup, err := newEngine(migrate.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := engine.Status(context.Background())
	if err != nil {
		return err
	}

	if len(status.Units) == 0 {
		ui.PrintInfo("No migrations found")
		return nil
	}

	printers := ui.GetColorPrinters()
	rows := make([][]string, 0, len(status.Units))
	for _, us := range status.Units {
		state := printers["warning"].Sprint("pending")
		appliedAt := "-"
		if us.Applied {
			state = printers["success"].Sprint("applied")
			appliedAt = us.AppliedAt.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{us.Unit.ID, us.Unit.Name, state, appliedAt})
	}
	ui.PrintTable([]string{"ID", "Name", "State", "Applied At"}, rows)

	if status.Pending == 0 {
		ui.PrintSuccess("Database is up to date")
	} else {
		ui.PrintWarning("%d migration(s) pending", status.Pending)
	}
	return nil
}

func runMigrateDryRun(cmd *cobra.Command, args []string) error {
	ui.PrintHeader("schemakit", "Dry Run")

	engine, cleanup, err := newEngine(migrate.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	report, err := engine.DryRun(context.Background())
	if err != nil {
		return err
	}

	if len(report.Pending) == 0 {
		ui.PrintInfo("Nothing to apply; database is up to date")
		return nil
	}

	ui.PrintInfo("Would apply %d migration(s):", len(report.Pending))
	items := make([]string, 0, len(report.Pending))
	for _, unit := range report.Pending {
		items = append(items, fmt.Sprintf("%s_%s", unit.ID, unit.Name))
	}
	ui.PrintList(items)

	for _, unit := range report.Pending {
		if unit.Description == "" {
			continue
		}
		if err := ui.PrintMarkdown(fmt.Sprintf("## %s_%s\n\n%s\n", unit.ID, unit.Name, unit.Description)); err != nil {
			return err
		}
	}

	if report.PrecheckSkipped {
		ui.PrintWarning("Prechecks skipped: this database cannot roll back DDL")
		return nil
	}
	for _, v := range report.Violations {
		ui.PrintWarning("Precheck violation in %s: %v", v.UnitID, v.Cause)
	}
	if len(report.Violations) == 0 {
		ui.PrintSuccess("All prechecks passed")
	}
	return nil
}

func runMigrateVerify(cmd *cobra.Command, args []string) error {
	ui.PrintHeader("schemakit", "Verify")

	engine, cleanup, err := newEngine(migrate.Options{})
	if err != nil {
		return err
	}
	defer cleanup()

	if err := engine.Verify(context.Background()); err != nil {
		return err
	}
	ui.PrintSuccess("No drift detected")
	return nil
}

func runMigrateNew(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	var name string
	if len(args) > 0 {
		name = args[0]
	} else {
		prompt := &survey.Input{Message: "Migration name:"}
		if err := survey.AskOne(prompt, &name, survey.WithValidator(survey.Required)); err != nil {
			return err
		}
	}

	path, err := catalog.Scaffold(config.AppFs, cfg.MigrationsDir, name, time.Now())
	if err != nil {
		return err
	}
	ui.PrintSuccess("Created %s", path)
	return nil
}

func runMigrateWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	watcher, err := watch.NewWatcher(cfg.MigrationsDir, func() error {
		return runMigrateStatus(cmd, nil)
	})
	if err != nil {
		return err
	}
	defer watcher.Stop()

	if err := watcher.Start(); err != nil {
		return err
	}

	ui.PrintInfo("Watching %s for changes (Ctrl+C to stop)", cfg.MigrationsDir)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-ctx.Done()
	return nil
}
