package repositories

import (
	"context"

	"github.com/lib/pq"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/postgres"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// OrganismGeneRepo is the curated tier-one organism source: exact gene text
// to gene id per organism.
type OrganismGeneRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

func NewOrganismGeneRepo(conn *postgres.Connection, log logging.Logger) *OrganismGeneRepo {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &OrganismGeneRepo{conn: conn, log: log}
}

// Name implements annotation.OrganismTier.
func (r *OrganismGeneRepo) Name() string { return "postgres" }

// Resolve implements annotation.OrganismTier.
func (r *OrganismGeneRepo) Resolve(ctx context.Context, genes, organisms []string) (annotation.GeneOrganismMap, error) {
	out := annotation.GeneOrganismMap{}
	if len(genes) == 0 || len(organisms) == 0 {
		return out, nil
	}

	query := `SELECT gene_name, organism_id, gene_id FROM organism_genes
		WHERE gene_name = ANY($1) AND organism_id = ANY($2)`
	rows, err := r.conn.DB().QueryContext(ctx, query, pq.Array(genes), pq.Array(organisms))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query organism genes")
	}
	defer rows.Close()

	for rows.Next() {
		var gene, organism, geneID string
		if err := rows.Scan(&gene, &organism, &geneID); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan organism gene")
		}
		out.Set(gene, organism, geneID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate organism genes")
	}
	return out, nil
}

// Upsert records a curated binding, replacing any previous gene id.
func (r *OrganismGeneRepo) Upsert(ctx context.Context, gene, organism, geneID, source string) error {
	query := `
		INSERT INTO organism_genes (gene_name, organism_id, gene_id, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (gene_name, organism_id) DO UPDATE SET gene_id = EXCLUDED.gene_id, source = EXCLUDED.source
	`
	if _, err := r.conn.DB().ExecContext(ctx, query, gene, organism, geneID, source); err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to upsert organism gene")
	}
	return nil
}
