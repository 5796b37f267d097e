// Package cli holds the campusctl command tree.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/campus-erp/campus/migrations"
)

// Migrations is the subset of a migrate instance the commands drive.
type Migrations interface {
	Up() error
	Steps(n int) error
	Migrate(version uint) error
	Version() (uint, bool, error)
	Force(version int) error
	Close() error
}

// Options supply lazily opened backends so that commands touch only what they need.
type Options struct {
	OpenMigrations func() (Migrations, error)
	OpenJobs       func() (*JobsCLI, error)
}

// NewRootCommand assembles the campusctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "campusctl",
		Short:         "Operational tooling for the campus platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCommand(opts), newJobsCommand(opts))
	return root
}

func newMigrateCommand(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	withMigrations := func(run func(cmd *cobra.Command, m Migrations, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if opts.OpenMigrations == nil {
				return errors.New("migrate: database not configured")
			}
			m, err := opts.OpenMigrations()
			if err != nil {
				return err
			}
			defer m.Close()
			return run(cmd, m, args)
		}
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrations(func(cmd *cobra.Command, m Migrations, _ []string) error {
			err := m.Up()
			if errors.Is(err, migrate.ErrNoChange) {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations to apply")
				return nil
			}
			if err != nil {
				return fmt.Errorf("migration up failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migration up completed")
			return nil
		}),
	}

	down := &cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withMigrations(func(cmd *cobra.Command, m Migrations, args []string) error {
			steps := 1
			if len(args) > 0 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}
			if err := migrations.IgnoreNoChange(m.Steps(-steps)); err != nil {
				return fmt.Errorf("migration down failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", steps)
			return nil
		}),
	}

	gotoCmd := &cobra.Command{
		Use:   "goto <version>",
		Short: "Migrate to a specific version",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrations(func(cmd *cobra.Command, m Migrations, args []string) error {
			version, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			if err := migrations.IgnoreNoChange(m.Migrate(uint(version))); err != nil {
				return fmt.Errorf("migration goto failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "At version %d\n", version)
			return nil
		}),
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Show the current migration version",
		Args:  cobra.NoArgs,
		RunE: withMigrations(func(cmd *cobra.Command, m Migrations, _ []string) error {
			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied")
				return nil
			}
			if err != nil {
				return err
			}
			if dirty {
				fmt.Fprintf(cmd.OutOrStdout(), "Version %d (dirty)\n", v)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Version %d\n", v)
			return nil
		}),
	}

	force := &cobra.Command{
		Use:   "force <version>",
		Short: "Set the migration version without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrations(func(cmd *cobra.Command, m Migrations, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			if err := m.Force(v); err != nil {
				return fmt.Errorf("migration force failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forced version %d\n", v)
			return nil
		}),
	}

	cmd.AddCommand(up, down, gotoCmd, version, force)
	return cmd
}

func newJobsCommand(opts Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	withJobs := func(run func(cmd *cobra.Command, c *JobsCLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if opts.OpenJobs == nil {
				return errors.New("jobs: queue not configured")
			}
			c, err := opts.OpenJobs()
			if err != nil {
				return err
			}
			defer c.Close()
			return run(cmd, c, args)
		}
	}

	var schoolID int64
	var day string
	trigger := &cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue a job by task type",
		Args:  cobra.ExactArgs(1),
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			triggerArgs := TriggerArgs{SchoolID: schoolID}
			if day != "" {
				parsed, err := time.Parse(time.DateOnly, day)
				if err != nil {
					return fmt.Errorf("invalid day %q: want YYYY-MM-DD", day)
				}
				triggerArgs.Day = parsed
			}
			info, err := c.Trigger(cmd.Context(), args[0], triggerArgs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s as %s\n", info.Type, info.ID)
			return nil
		}),
	}
	trigger.Flags().Int64Var(&schoolID, "school", 0, "school id for attendance:summary")
	trigger.Flags().StringVar(&day, "day", "", "day for attendance:summary (YYYY-MM-DD)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print default queue statistics as JSON",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			s, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}),
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, _ []string) error {
			tasks, err := c.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No scheduled tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		}),
	}
	scheduled.Flags().IntVar(&size, "size", 10, "page size")

	cmd.AddCommand(trigger, stats, scheduled)
	return cmd
}
