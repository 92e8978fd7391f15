package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/annotation/dictionary"
	"github.com/turtacn/BioAnnotator/internal/annotation/pipeline"
	appannotation "github.com/turtacn/BioAnnotator/internal/application/annotation"
	"github.com/turtacn/BioAnnotator/internal/config"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Dictionary.Dir = t.TempDir()
	cfg.Annotation.UseBuiltinStopWords = true
	return cfg
}

func writeDictionary(t *testing.T, dir string, c annotation.Category, terms map[string]annotation.DictionaryEntry) {
	t.Helper()
	b := dictionary.NewBuilder(c)
	for text, e := range terms {
		b.Add(text, e)
	}
	require.NoError(t, b.WriteFile(filepath.Join(dir, dictionary.FileName(c))))
}

func TestOpen_NothingSelected(t *testing.T) {
	infra, err := Open(testConfig(t), Needs{}, nil)
	require.NoError(t, err)
	defer infra.Close()

	assert.Nil(t, infra.Postgres)
	assert.Nil(t, infra.Redis)
	assert.Empty(t, infra.Checks())
}

func TestOpen_MinIOWithoutEndpoint(t *testing.T) {
	_, err := Open(testConfig(t), Needs{MinIO: true}, nil)
	assert.Error(t, err)
}

func TestOpen_SQLiteTier(t *testing.T) {
	cfg := testConfig(t)
	cfg.Organism.TierOne = "sqlite"
	cfg.Organism.SQLitePath = filepath.Join(t.TempDir(), "organisms.db")

	infra, err := Open(cfg, Needs{}, nil)
	require.NoError(t, err)
	defer infra.Close()
	require.NotNil(t, infra.SQLite)

	tier, err := buildTierOne(cfg, infra, nil)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", tier.Name())
}

func TestBuildAnnotator_LocalOnly(t *testing.T) {
	cfg := testConfig(t)
	writeDictionary(t, cfg.Dictionary.Dir, annotation.CategoryDisease, map[string]annotation.DictionaryEntry{
		"asthma": {EntityID: "MESH:D001249", IDType: annotation.IDTypeMESH, Name: "Asthma"},
	})

	metrics, _, err := NewMetrics(nil)
	require.NoError(t, err)

	a, err := BuildAnnotator(cfg, nil, metrics, nil)
	require.NoError(t, err)
	defer a.Close()

	doc := &annotation.Document{ID: "d1", Text: "asthma", Pages: map[int][]annotation.LayoutChar{}}
	for i, r := range doc.Text {
		x := float64(i)
		doc.Pages[1] = append(doc.Pages[1], annotation.LayoutChar{Value: string(r), X0: x, Y0: 0, X1: x + 1, Y1: 1})
	}
	res, err := a.Pipeline.Run(context.Background(), pipeline.Input{
		Document:   doc,
		Categories: []annotation.Category{annotation.CategoryDisease},
	})
	require.NoError(t, err)
	require.Len(t, res.Annotations, 1)
	assert.Equal(t, "MESH:D001249", res.Annotations[0].ID)

	svc, err := BuildService(a, nil, nil, metrics, nil)
	require.NoError(t, err)
	out, err := svc.Annotate(context.Background(), &appannotation.DocumentRequest{
		DocumentID: "d2", Text: doc.Text, Pages: doc.Pages,
	})
	require.NoError(t, err)
	assert.Len(t, out.Annotations, 1)
}

func TestBuildAnnotator_TierWithoutBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Organism.TierTwo = "neo4j"

	_, err := BuildAnnotator(cfg, &Infrastructure{}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestBuildSyncer_RequiresMinIO(t *testing.T) {
	_, err := BuildSyncer(testConfig(t), &Infrastructure{}, nil, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestPalette_ConfiguredWins(t *testing.T) {
	p := palette(map[annotation.Category]string{annotation.CategoryGene: "#000000"})

	style, ok := p.Style(annotation.CategoryGene)
	require.True(t, ok)
	assert.Equal(t, "#000000", style.Color)

	_, ok = p.Style(annotation.CategoryDisease)
	assert.True(t, ok)
}

func TestConverters(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Host = "db"
	cfg.Database.User = "annot"
	cfg.Database.Password = "secret"

	pg := PostgresConfig(cfg.Database)
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, "bioannot", pg.Database)
	assert.Equal(t, "annot", pg.Username)
	assert.Contains(t, MigrationURL(cfg.Database), "postgres://annot:secret@db:5432/bioannot")

	cfg.Kafka.Brokers = []string{"k1:9092"}
	cc := ConsumerConfig(cfg.Kafka, cfg.Worker)
	assert.Equal(t, []string{config.DefaultKafkaJobTopic}, cc.Topics)
	assert.Equal(t, config.DefaultKafkaDLQTopic, cc.RetryConfig.DeadLetterTopic)
	assert.Equal(t, config.DefaultWorkerConcurrency, cc.Concurrency)

	rec := RecognitionConfig(cfg.Annotation)
	assert.Equal(t, 1, rec.WordLimit(annotation.CategoryGene))
	assert.Equal(t, config.DefaultDefaultWordLimit, rec.WordLimit(annotation.CategoryDisease))
}
