package repositories

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	infraNeo4j "github.com/turtacn/BioAnnotator/internal/infrastructure/database/neo4j"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// Synonyms reach their gene through any relationship; organisms match the
// gene's own taxon or up to two ancestors above it, so strain-level
// taxonomy still binds to the species id the caller asked for.
const queryGenesBySynonym = `
MATCH (s:Synonym)-[]-(g:db_NCBI:Gene)
WHERE s.name IN $genes
WITH s, g
MATCH (g)-[:HAS_TAXONOMY]-(t:Taxonomy)-[:HAS_PARENT*0..2]->(p:Taxonomy)
WHERE p.id IN $organisms
RETURN g.name AS gene_name, s.name AS gene_synonym, g.id AS gene_id, p.id AS organism_id
`

type geneRow struct {
	name       string
	synonym    string
	geneID     string
	organismID string
}

// GeneTaxonomyRepo is the graph-backed organism tier.
type GeneTaxonomyRepo struct {
	exec   infraNeo4j.Executor
	logger logging.Logger
}

func NewGeneTaxonomyRepo(exec infraNeo4j.Executor, log logging.Logger) *GeneTaxonomyRepo {
	return &GeneTaxonomyRepo{exec: exec, logger: log}
}

func (r *GeneTaxonomyRepo) Name() string { return "neo4j" }

// Resolve keys results by the synonym text the caller supplied.  When a
// synonym maps to several genes in one organism, a gene whose canonical
// name equals the synonym wins; remaining ties go to the smallest gene id.
func (r *GeneTaxonomyRepo) Resolve(ctx context.Context, genes, organisms []string) (annotation.GeneOrganismMap, error) {
	out := annotation.GeneOrganismMap{}
	if len(genes) == 0 || len(organisms) == 0 {
		return out, nil
	}

	res, err := r.exec.ExecuteRead(ctx, func(tx infraNeo4j.Transaction) (any, error) {
		result, err := tx.Run(ctx, queryGenesBySynonym, map[string]any{
			"genes":     genes,
			"organisms": organisms,
		})
		if err != nil {
			return nil, err
		}
		return infraNeo4j.CollectRecords(ctx, result, mapGeneRow)
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeOrganismResolutionFailed, "gene taxonomy lookup failed")
	}

	rows, _ := res.([]geneRow)
	exact := make(map[[2]string]bool)
	for _, row := range rows {
		key := [2]string{row.synonym, row.organismID}
		isExact := row.name == row.synonym
		current, ok := out.Get(row.synonym, row.organismID)
		switch {
		case !ok:
		case isExact && !exact[key]:
		case isExact == exact[key] && row.geneID < current:
		default:
			continue
		}
		out.Set(row.synonym, row.organismID, row.geneID)
		exact[key] = isExact
	}

	r.logger.Debug("gene taxonomy resolved",
		logging.Int("genes", len(genes)),
		logging.Int("rows", len(rows)),
		logging.Int("bound", len(out)))
	return out, nil
}

func mapGeneRow(rec *neo4j.Record) (geneRow, error) {
	var row geneRow
	for key, dst := range map[string]*string{
		"gene_name":    &row.name,
		"gene_synonym": &row.synonym,
		"gene_id":      &row.geneID,
		"organism_id":  &row.organismID,
	} {
		v, ok := rec.Get(key)
		if !ok {
			return row, errors.New(errors.ErrCodeSerialization, "gene taxonomy record missing column").WithDetail(key)
		}
		if v != nil {
			*dst = fmt.Sprint(v)
		}
	}
	return row, nil
}
