package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/turtacn/BioAnnotator/internal/bootstrap"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/postgres"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// migrator is the schema tool the migrate commands drive.
type migrator struct {
	up       func(dbURL string) error
	down     func(dbURL string, steps int) error
	status   func(dbURL string) (uint, bool, error)
	force    func(dbURL string, version int) error
	versions func() ([]uint, error)
}

var postgresMigrator = migrator{
	up:       postgres.RunMigrations,
	down:     postgres.RollbackMigration,
	status:   postgres.MigrationStatus,
	force:    postgres.ForceMigrationVersion,
	versions: postgres.MigrationVersions,
}

// NewMigrateCmd creates the migrate command group for the manual annotation
// and organism schema.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(postgresMigrator)
}

func newMigrateCmd(m migrator) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := migrationURL(cmd)
			if err != nil {
				return err
			}
			if err := m.up(url); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate up failed")
			}
			PrintSuccess(cmd, "schema is up to date")
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := migrationURL(cmd)
			if err != nil {
				return err
			}
			if err := m.down(url, steps); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate down failed")
			}
			PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := migrationURL(cmd)
			if err != nil {
				return err
			}
			version, dirty, err := m.status(url)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate status failed")
			}
			available, err := m.versions()
			if err != nil {
				return errors.Wrap(err, errors.CodeInternal, "cannot list embedded migrations")
			}
			return PrintResult(cmd, migrationStatus{Version: version, Dirty: dirty, Available: available})
		},
	}

	var version int
	force := &cobra.Command{
		Use:   "force",
		Short: "Set the schema version without running migrations",
		Long:  "Clears a dirty flag left by a failed migration.  Inspect the schema by hand first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := migrationURL(cmd)
			if err != nil {
				return err
			}
			if err := m.force(url, version); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "migrate force failed")
			}
			PrintSuccess(cmd, fmt.Sprintf("schema version forced to %d", version))
			return nil
		},
	}
	force.Flags().IntVar(&version, "version", 0, "schema version to record (required)")
	_ = force.MarkFlagRequired("version")

	cmd.AddCommand(up, down, status, force)
	return cmd
}

type migrationStatus struct {
	Version   uint   `json:"version"`
	Dirty     bool   `json:"dirty"`
	Available []uint `json:"available"`
}

func (s migrationStatus) Pending() int {
	n := 0
	for _, v := range s.Available {
		if v > s.Version {
			n++
		}
	}
	return n
}

func (s migrationStatus) TableHeaders() []string {
	return []string{"VERSION", "DIRTY", "LATEST", "PENDING"}
}

func (s migrationStatus) TableRows() [][]string {
	latest := uint(0)
	if len(s.Available) > 0 {
		latest = s.Available[len(s.Available)-1]
	}
	return [][]string{{
		strconv.FormatUint(uint64(s.Version), 10),
		strconv.FormatBool(s.Dirty),
		strconv.FormatUint(uint64(latest), 10),
		strconv.Itoa(s.Pending()),
	}}
}

func migrationURL(cmd *cobra.Command) (string, error) {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return "", err
	}
	if cliCtx.Config.Database.Host == "" {
		return "", errors.New(errors.CodeInvalidParam, "database.host is not configured")
	}
	return bootstrap.MigrationURL(cliCtx.Config.Database), nil
}
