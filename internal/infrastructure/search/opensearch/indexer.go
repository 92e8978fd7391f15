package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

var (
	ErrIndexCreationFailed = errors.New(errors.ErrCodeExternalService, "index creation failed")
	ErrBulkFailed          = errors.New(errors.ErrCodeExternalService, "bulk indexing failed")
)

// IndexerConfig holds configuration for the Indexer.
type IndexerConfig struct {
	Index         string
	BulkBatchSize int
	// RefreshPolicy is passed through to write requests: "true", "false"
	// or "wait_for".
	RefreshPolicy string
}

// BulkItemError is one rejected document of a bulk request.
type BulkItemError struct {
	DocID     string
	ErrorType string
	Reason    string
}

// BulkResult summarises a bulk request.
type BulkResult struct {
	Succeeded int
	Failed    int
	Errors    []BulkItemError
}

// IndexedAnnotation is the stored form: the annotation plus its document and
// indexing time.
type IndexedAnnotation struct {
	annotation.Annotation
	DocumentID string    `json:"document_id"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Indexer writes annotation sets.  It implements annotation.AnnotationSink.
type Indexer struct {
	client *Client
	config IndexerConfig
	logger logging.Logger
	now    func() time.Time
}

// NewIndexer creates a new Indexer.
func NewIndexer(client *Client, cfg IndexerConfig, logger logging.Logger) *Indexer {
	if cfg.Index == "" {
		cfg.Index = "annotations"
	}
	if cfg.BulkBatchSize == 0 {
		cfg.BulkBatchSize = 500
	}
	if cfg.RefreshPolicy == "" {
		cfg.RefreshPolicy = "false"
	}
	return &Indexer{client: client, config: cfg, logger: logger, now: time.Now}
}

// EnsureIndex creates the annotation index when it does not exist yet.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	exists, err := i.IndexExists(ctx)
	if err != nil || exists {
		return err
	}

	body, err := json.Marshal(AnnotationIndexMapping())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}

	req := opensearchapi.IndicesCreateRequest{Index: i.config.Index, Body: bytes.NewReader(body)}
	resp, err := req.Do(ctx, i.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to create index request")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		// Another worker won the race.
		if resp.StatusCode == http.StatusBadRequest && responseErrorType(resp) == "resource_already_exists_exception" {
			return nil
		}
		return handleErrorResponse(resp, ErrIndexCreationFailed)
	}

	i.logger.Info("Index created", logging.String("index", i.config.Index))
	return nil
}

// IndexExists checks if the annotation index exists.
func (i *Indexer) IndexExists(ctx context.Context) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{i.config.Index}}
	resp, err := req.Do(ctx, i.client.client)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeExternalService, "failed to check index existence")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, handleErrorResponse(resp, errors.New(errors.ErrCodeExternalService, "check index existence failed"))
}

// Publish replaces the indexed annotations of documentID with annotations.
// Stale annotations from an earlier pass are removed first, since UUIDs
// change between passes.
func (i *Indexer) Publish(ctx context.Context, documentID string, annotations []annotation.Annotation) error {
	if documentID == "" {
		return errors.New(errors.ErrCodeValidation, "document id required")
	}
	if err := i.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if len(annotations) == 0 {
		return nil
	}

	indexedAt := i.now().UTC()
	docs := make([]IndexedAnnotation, len(annotations))
	for n, a := range annotations {
		docs[n] = IndexedAnnotation{Annotation: a, DocumentID: documentID, IndexedAt: indexedAt}
	}

	result, err := i.BulkIndex(ctx, docs)
	if err != nil {
		return err
	}
	if result.Failed > 0 {
		first := result.Errors[0]
		return ErrBulkFailed.WithDetailf("document=%s failed=%d first=%s: %s", documentID, result.Failed, first.ErrorType, first.Reason)
	}
	return nil
}

// DeleteDocument removes every annotation of documentID.
func (i *Indexer) DeleteDocument(ctx context.Context, documentID string) error {
	body, err := json.Marshal(map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal delete query")
	}

	refresh := i.config.RefreshPolicy != "false"
	req := opensearchapi.DeleteByQueryRequest{
		Index:     []string{i.config.Index},
		Body:      bytes.NewReader(body),
		Conflicts: "proceed",
		Refresh:   &refresh,
	}
	resp, err := req.Do(ctx, i.client.client)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeExternalService, "failed to delete document annotations")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return handleErrorResponse(resp, errors.New(errors.ErrCodeExternalService, "delete document annotations failed"))
	}
	return nil
}

// BulkIndex indexes docs in batches of BulkBatchSize, keyed by annotation
// UUID.
func (i *Indexer) BulkIndex(ctx context.Context, docs []IndexedAnnotation) (*BulkResult, error) {
	result := &BulkResult{}

	for start := 0; start < len(docs); start += i.config.BulkBatchSize {
		end := start + i.config.BulkBatchSize
		if end > len(docs) {
			end = len(docs)
		}

		var buf bytes.Buffer
		sent := 0
		for _, doc := range docs[start:end] {
			source, err := json.Marshal(doc)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{DocID: doc.UUID, ErrorType: "serialization_error", Reason: err.Error()})
				continue
			}
			meta, _ := json.Marshal(map[string]map[string]string{"index": {"_index": i.config.Index, "_id": doc.UUID}})
			buf.Write(meta)
			buf.WriteByte('\n')
			buf.Write(source)
			buf.WriteByte('\n')
			sent++
		}
		if sent == 0 {
			continue
		}

		req := opensearchapi.BulkRequest{Body: bytes.NewReader(buf.Bytes()), Refresh: i.config.RefreshPolicy}
		resp, err := req.Do(ctx, i.client.client)
		if err != nil {
			return result, errors.Wrap(err, errors.ErrCodeExternalService, "bulk request failed")
		}
		err = i.collectBulkResponse(resp, sent, result)
		resp.Body.Close()
		if err != nil {
			return result, err
		}
	}

	i.logger.Debug("Bulk index completed",
		logging.String("index", i.config.Index),
		logging.Int("total", len(docs)),
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

func (i *Indexer) collectBulkResponse(resp *opensearchapi.Response, batch int, result *BulkResult) error {
	if resp.IsError() {
		result.Failed += batch
		err := handleErrorResponse(resp, ErrBulkFailed)
		result.Errors = append(result.Errors, BulkItemError{DocID: "batch_error", ErrorType: "http_error", Reason: err.Error()})
		return nil
	}

	type itemInfo struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	var bulkResp struct {
		Errors bool                  `json:"errors"`
		Items  []map[string]itemInfo `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode bulk response")
	}

	for _, item := range bulkResp.Items {
		for _, info := range item {
			if info.Status >= 200 && info.Status < 300 {
				result.Succeeded++
			} else {
				result.Failed++
				result.Errors = append(result.Errors, BulkItemError{DocID: info.ID, ErrorType: info.Error.Type, Reason: info.Error.Reason})
			}
		}
	}
	return nil
}

func responseErrorType(resp *opensearchapi.Response) string {
	var errResp struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body = io.NopCloser(bytes.NewReader(data))
	_ = json.Unmarshal(data, &errResp)
	return errResp.Error.Type
}

func handleErrorResponse(resp *opensearchapi.Response, defaultErr *errors.AppError) error {
	var errResp struct {
		Error struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Reason != "" {
		return defaultErr.WithDetailf("status=%d %s: %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Reason)
	}
	return defaultErr.WithDetailf("status=%d %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// AnnotationIndexMapping keys entities and categories as keywords so that
// "documents mentioning X" is a term query.
func AnnotationIndexMapping() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	integer := map[string]interface{}{"type": "integer"}
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   3,
			"number_of_replicas": 1,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"document_id":         keyword,
				"uuid":                keyword,
				"id":                  keyword,
				"id_type":             keyword,
				"keyword_type":        keyword,
				"organism_id":         keyword,
				"source":              keyword,
				"unresolved_organism": map[string]interface{}{"type": "boolean"},
				"text":                map[string]interface{}{"type": "text", "fields": map[string]interface{}{"raw": keyword}},
				"name":                map[string]interface{}{"type": "text"},
				"page_number":         integer,
				"lo_location_offset":  integer,
				"hi_location_offset":  integer,
				"keyword_length":      integer,
				"color":               map[string]interface{}{"type": "keyword", "index": false},
				"hyperlink":           map[string]interface{}{"type": "keyword", "index": false},
				"keywords":            map[string]interface{}{"type": "object", "enabled": false},
				"indexed_at":          map[string]interface{}{"type": "date"},
			},
		},
	}
}
