package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/postgres"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

const manualColumns = `id, kind, scope, document_id, entity_id, id_type, category, text_value,
	rects, page_number, apply_to_all, case_sensitive, reason, comment, created_by, created_at`

type postgresManualAnnotationRepo struct {
	conn *postgres.Connection
	tx   *sql.Tx
	log  logging.Logger
}

// NewPostgresManualAnnotationRepo returns the manual annotation store.
func NewPostgresManualAnnotationRepo(conn *postgres.Connection, log logging.Logger) annotation.ManualAnnotationRepository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &postgresManualAnnotationRepo{conn: conn, log: log}
}

func (r *postgresManualAnnotationRepo) executor() queryExecutor {
	if r.tx != nil {
		return r.tx
	}
	return r.conn.DB()
}

func (r *postgresManualAnnotationRepo) ListGlobalExclusions(ctx context.Context) ([]annotation.ManualAnnotation, error) {
	query := `SELECT ` + manualColumns + ` FROM manual_annotations
		WHERE scope = $1 AND kind = $2
		ORDER BY created_at, id`
	rows, err := r.executor().QueryContext(ctx, query, annotation.ScopeGlobal, annotation.KindExclusion)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list global exclusions")
	}
	defer rows.Close()
	return collectManual(rows)
}

// ListLocal returns a document's exclusions and inclusions, each in
// creation order so that later inclusions win conflicts.
func (r *postgresManualAnnotationRepo) ListLocal(ctx context.Context, documentID string) ([]annotation.ManualAnnotation, []annotation.ManualAnnotation, error) {
	query := `SELECT ` + manualColumns + ` FROM manual_annotations
		WHERE scope = $1 AND document_id = $2
		ORDER BY created_at, id`
	rows, err := r.executor().QueryContext(ctx, query, annotation.ScopeLocal, documentID)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list local manual annotations")
	}
	defer rows.Close()

	all, err := collectManual(rows)
	if err != nil {
		return nil, nil, err
	}
	var exclusions, inclusions []annotation.ManualAnnotation
	for _, m := range all {
		if m.Kind == annotation.KindInclusion {
			inclusions = append(inclusions, m)
		} else {
			exclusions = append(exclusions, m)
		}
	}
	return exclusions, inclusions, nil
}

// Save inserts m, assigning an id when it has none.
func (r *postgresManualAnnotationRepo) Save(ctx context.Context, m *annotation.ManualAnnotation) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	rects := m.Rects
	if rects == nil {
		rects = []annotation.Rect{}
	}
	rectsJSON, err := json.Marshal(rects)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode rects")
	}

	var docID sql.NullString
	if m.DocumentID != "" {
		docID = sql.NullString{String: m.DocumentID, Valid: true}
	}

	query := `
		INSERT INTO manual_annotations (
			id, kind, scope, document_id, entity_id, id_type, category, text_value,
			rects, page_number, apply_to_all, case_sensitive, reason, comment, created_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		) RETURNING created_at
	`
	err = r.executor().QueryRowContext(ctx, query,
		m.ID, m.Kind, m.Scope, docID, m.EntityID, m.IDType, m.Category, m.TextValue,
		rectsJSON, m.PageNumber, m.ApplyToAll, m.CaseSensitive, m.Reason, m.Comment, m.CreatedBy,
	).Scan(&m.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to save manual annotation")
	}

	r.log.Debug("manual annotation saved",
		logging.String("id", m.ID),
		logging.String("kind", string(m.Kind)),
		logging.String("scope", string(m.Scope)))
	return nil
}

func (r *postgresManualAnnotationRepo) Delete(ctx context.Context, id string) error {
	res, err := r.executor().ExecContext(ctx, `DELETE FROM manual_annotations WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete manual annotation")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.NotFound("manual annotation not found").WithDetailf("id=%s", id)
	}
	return nil
}

func collectManual(rows *sql.Rows) ([]annotation.ManualAnnotation, error) {
	var out []annotation.ManualAnnotation
	for rows.Next() {
		m, err := scanManual(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate manual annotations")
	}
	return out, nil
}

func scanManual(row scanner) (*annotation.ManualAnnotation, error) {
	var (
		m         annotation.ManualAnnotation
		docID     sql.NullString
		rectsJSON []byte
		createdAt time.Time
	)
	err := row.Scan(
		&m.ID, &m.Kind, &m.Scope, &docID, &m.EntityID, &m.IDType, &m.Category, &m.TextValue,
		&rectsJSON, &m.PageNumber, &m.ApplyToAll, &m.CaseSensitive, &m.Reason, &m.Comment, &m.CreatedBy, &createdAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan manual annotation")
	}
	m.DocumentID = docID.String
	m.CreatedAt = createdAt
	if len(rectsJSON) > 0 {
		if err := json.Unmarshal(rectsJSON, &m.Rects); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode rects").WithDetailf("id=%s", m.ID)
		}
	}
	return &m, nil
}
