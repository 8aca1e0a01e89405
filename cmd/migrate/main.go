package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/database"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/spf13/cobra"
)

type migrateCLI struct {
	dir string
	log *logger.Logger
}

func main() {
	cli := &migrateCLI{log: logger.New("info", "text").WithComponent("migrate")}
	if err := cli.rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (c *migrateCLI) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the reset-device database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.dir, "path", "migrations", "directory holding the migration files")

	root.AddCommand(
		&cobra.Command{
			Use:   "up [steps]",
			Short: "Apply pending migrations, all of them unless steps is given",
			Args:  cobra.MaximumNArgs(1),
			RunE:  c.runUp,
		},
		&cobra.Command{
			Use:   "down [steps]",
			Short: "Roll back migrations, one unless steps is given",
			Args:  cobra.MaximumNArgs(1),
			RunE:  c.runDown,
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE:  c.runStatus,
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Mark a version as applied and clear the dirty flag",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runForce,
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create an empty up/down migration pair",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runCreate,
		},
	)
	return root
}

func (c *migrateCLI) migrator() (*migrate.Migrate, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db.Migrator(c.dir)
}

func stepsArg(args []string, fallback int) (int, error) {
	if len(args) == 0 {
		return fallback, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return n, nil
}

func (c *migrateCLI) runUp(cmd *cobra.Command, args []string) error {
	steps, err := stepsArg(args, 0)
	if err != nil {
		return err
	}
	m, err := c.migrator()
	if err != nil {
		return err
	}

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		c.log.Info().Msg("schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.logVersion(m)
}

func (c *migrateCLI) runDown(cmd *cobra.Command, args []string) error {
	steps, err := stepsArg(args, 1)
	if err != nil {
		return err
	}
	m, err := c.migrator()
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return c.logVersion(m)
}

func (c *migrateCLI) runStatus(cmd *cobra.Command, args []string) error {
	m, err := c.migrator()
	if err != nil {
		return err
	}
	version, dirty, ok, err := database.SchemaVersion(m)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !ok {
		fmt.Fprintln(out, "No migrations have been applied")
		return nil
	}
	fmt.Fprintf(out, "Current version: %d\nDirty: %v\n", version, dirty)
	return nil
}

func (c *migrateCLI) runForce(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid version %q", args[0])
	}
	m, err := c.migrator()
	if err != nil {
		return err
	}
	if err := m.Force(version); err != nil {
		return fmt.Errorf("failed to force version: %w", err)
	}
	c.log.Warn().Int("version", version).Msg("schema version forced")
	return nil
}

func (c *migrateCLI) logVersion(m *migrate.Migrate) error {
	version, dirty, ok, err := database.SchemaVersion(m)
	if err != nil {
		return err
	}
	c.log.Info().Bool("empty", !ok).Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
	return nil
}

// runCreate numbers the new pair after the highest existing version
func (c *migrateCLI) runCreate(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(args[0]), " ", "_"))

	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	latest := 0
	for _, entry := range entries {
		prefix, _, found := strings.Cut(entry.Name(), "_")
		if entry.IsDir() || !found || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if v, err := strconv.Atoi(prefix); err == nil && v > latest {
			latest = v
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Created migration files:")
	for _, direction := range []string{"up", "down"} {
		file := filepath.Join(c.dir, fmt.Sprintf("%06d_%s.%s.sql", latest+1, name, direction))
		if err := os.WriteFile(file, []byte("-- "+direction+" migration\n"), 0644); err != nil {
			return fmt.Errorf("failed to create %s migration: %w", direction, err)
		}
		fmt.Fprintf(out, "  %s\n", file)
	}
	return nil
}
