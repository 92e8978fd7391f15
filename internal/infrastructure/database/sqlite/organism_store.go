// Package sqlite provides the offline tier-one organism source: a local
// snapshot of the curated gene table for CLI runs without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS organism_genes (
	gene_name   TEXT NOT NULL,
	organism_id TEXT NOT NULL,
	gene_id     TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (gene_name, organism_id)
);
CREATE INDEX IF NOT EXISTS idx_organism_genes_organism ON organism_genes (organism_id);
`

// OrganismStore implements annotation.OrganismTier over a SQLite file.
type OrganismStore struct {
	db   *sql.DB
	path string
}

// Binding is one curated row.
type Binding struct {
	Gene     string
	Organism string
	GeneID   string
	Source   string
}

// OpenOrganismStore opens or creates the snapshot at path.
func OpenOrganismStore(path string) (*OrganismStore, error) {
	if path == "" {
		return nil, errors.New(errors.CodeInvalidParam, "sqlite: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to create database directory")
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to open database")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to create schema")
	}
	return &OrganismStore{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *OrganismStore) Close() error {
	return s.db.Close()
}

// Name implements annotation.OrganismTier.
func (s *OrganismStore) Name() string { return "sqlite" }

// Resolve implements annotation.OrganismTier.
func (s *OrganismStore) Resolve(ctx context.Context, genes, organisms []string) (annotation.GeneOrganismMap, error) {
	out := annotation.GeneOrganismMap{}
	if len(genes) == 0 || len(organisms) == 0 {
		return out, nil
	}

	args := make([]interface{}, 0, len(genes)+len(organisms))
	for _, g := range genes {
		args = append(args, g)
	}
	for _, o := range organisms {
		args = append(args, o)
	}
	query := fmt.Sprintf(`SELECT gene_name, organism_id, gene_id FROM organism_genes
		WHERE gene_name IN (%s) AND organism_id IN (%s)`,
		placeholders(len(genes)), placeholders(len(organisms)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to query organism genes")
	}
	defer rows.Close()

	for rows.Next() {
		var gene, organism, geneID string
		if err := rows.Scan(&gene, &organism, &geneID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to scan organism gene")
		}
		out.Set(gene, organism, geneID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to iterate organism genes")
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Import upserts bindings in one transaction and calls progress after each.
func (s *OrganismStore) Import(ctx context.Context, bindings []Binding, progress func()) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO organism_genes (gene_name, organism_id, gene_id, source) VALUES (?, ?, ?, ?)
		ON CONFLICT (gene_name, organism_id) DO UPDATE SET gene_id = excluded.gene_id, source = excluded.source`)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to prepare import")
	}
	defer stmt.Close()

	for _, b := range bindings {
		if b.Gene == "" || b.Organism == "" || b.GeneID == "" {
			return errors.New(errors.CodeInvalidParam, "sqlite: binding needs gene, organism and gene id").
				WithDetailf("gene=%q organism=%q", b.Gene, b.Organism)
		}
		if _, err := stmt.ExecContext(ctx, b.Gene, b.Organism, b.GeneID, b.Source); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to import binding")
		}
		if progress != nil {
			progress()
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to commit import")
	}
	return nil
}

// Count returns the number of stored bindings.
func (s *OrganismStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organism_genes`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "sqlite: failed to count bindings")
	}
	return n, nil
}
