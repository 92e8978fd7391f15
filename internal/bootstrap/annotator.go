package bootstrap

import (
	"github.com/turtacn/BioAnnotator/internal/annotation/assembler"
	"github.com/turtacn/BioAnnotator/internal/annotation/dictionary"
	"github.com/turtacn/BioAnnotator/internal/annotation/organism"
	"github.com/turtacn/BioAnnotator/internal/annotation/overlay"
	"github.com/turtacn/BioAnnotator/internal/annotation/pipeline"
	"github.com/turtacn/BioAnnotator/internal/annotation/stopwords"
	appannotation "github.com/turtacn/BioAnnotator/internal/application/annotation"
	appdictionary "github.com/turtacn/BioAnnotator/internal/application/dictionary"
	"github.com/turtacn/BioAnnotator/internal/config"
	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
	neo4jrepo "github.com/turtacn/BioAnnotator/internal/infrastructure/database/neo4j/repositories"
	pgrepo "github.com/turtacn/BioAnnotator/internal/infrastructure/database/postgres/repositories"
	redisclient "github.com/turtacn/BioAnnotator/internal/infrastructure/database/redis"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/prometheus"
	minioclient "github.com/turtacn/BioAnnotator/internal/infrastructure/storage/minio"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// dictionarySyncLock is the Redis mutex name shared by every replica pulling
// into the same dictionary volume.
const dictionarySyncLock = "dictionary-sync"

// Annotator is a ready pipeline plus the pieces callers need alongside it.
type Annotator struct {
	Pipeline  *pipeline.Pipeline
	Registry  *dictionary.Registry
	StopWords *stopwords.Set
	Validator *overlay.Validator
}

// Close unmaps the dictionaries.
func (a *Annotator) Close() {
	a.Registry.Close()
}

// NewMetrics registers the annotation metric families on a fresh registry.
func NewMetrics(logger logging.Logger) (*prometheus.AnnotationMetrics, prometheus.MetricsCollector, error) {
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            prometheus.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return prometheus.NewAnnotationMetrics(collector), collector, nil
}

// BuildAnnotator wires stop words, dictionaries, organism tiers and the
// pipeline.  metrics may be nil.
func BuildAnnotator(cfg *config.Config, infra *Infrastructure, metrics *prometheus.AnnotationMetrics, logger logging.Logger) (*Annotator, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if infra == nil {
		infra = &Infrastructure{logger: logger}
	}

	stop, err := stopwords.New(stopwords.Options{
		Builtin: cfg.Annotation.UseBuiltinStopWords,
		Path:    cfg.Annotation.StopWordsPath,
	})
	if err != nil {
		return nil, err
	}

	tierOne, err := buildTierOne(cfg, infra, logger)
	if err != nil {
		return nil, err
	}
	tierTwo, err := buildTierTwo(cfg, infra, metrics, logger)
	if err != nil {
		return nil, err
	}

	recCfg := RecognitionConfig(cfg.Annotation)
	registry := dictionary.NewRegistry(RegistryConfig(cfg), logger)

	deps := pipeline.Deps{
		Dictionaries: registry,
		StopWords:    stop,
		TierOne:      tierOne,
		TierTwo:      tierTwo,
		Styles:       palette(cfg.Annotation.Palette()),
		Logger:       logger,
	}
	if metrics != nil {
		deps.RecognitionMetrics = metrics
		deps.OrganismMetrics = metrics
		deps.OverlayMetrics = metrics
		deps.Metrics = metrics
	}

	p, err := pipeline.New(pipeline.Config{
		MaxWordLength:     cfg.Annotation.MaxWordLength,
		KeepTrivialTokens: cfg.Annotation.KeepTrivialTokens,
		Categories:        cfg.Annotation.CategoryList(),
		Recognition:       recCfg,
		Organism: organism.Config{
			DefaultOrganism: cfg.Annotation.DefaultOrganism,
			Timeout:         cfg.Organism.Timeout,
		},
	}, deps)
	if err != nil {
		registry.Close()
		return nil, err
	}

	if metrics != nil {
		snap := registry.Acquire()
		metrics.SetDictionaries(annotation.AllCategories, snap.Available())
		snap.Release()
	}

	return &Annotator{
		Pipeline:  p,
		Registry:  registry,
		StopWords: stop,
		Validator: overlay.NewValidator(recCfg, stop),
	}, nil
}

func buildTierOne(cfg *config.Config, infra *Infrastructure, logger logging.Logger) (annotation.OrganismTier, error) {
	switch cfg.Organism.TierOne {
	case "postgres":
		if infra.Postgres == nil {
			return nil, errors.New(errors.CodeInvalidParam, "organism tier one: postgres is not connected")
		}
		return pgrepo.NewOrganismGeneRepo(infra.Postgres, logger), nil
	case "sqlite":
		if infra.SQLite == nil {
			return nil, errors.New(errors.CodeInvalidParam, "organism tier one: sqlite store is not open")
		}
		return infra.SQLite, nil
	default:
		return nil, nil
	}
}

// buildTierTwo wraps the graph tier in a rate limiter and, when Redis is
// available, a shared cache in front of the limiter.
func buildTierTwo(cfg *config.Config, infra *Infrastructure, metrics *prometheus.AnnotationMetrics, logger logging.Logger) (annotation.OrganismTier, error) {
	if cfg.Organism.TierTwo != "neo4j" {
		return nil, nil
	}
	if infra.Neo4j == nil {
		return nil, errors.New(errors.CodeInvalidParam, "organism tier two: neo4j is not connected")
	}

	var tier annotation.OrganismTier = neo4jrepo.NewGeneTaxonomyRepo(infra.Neo4j, logger)
	if cfg.Organism.RateLimit > 0 {
		tier = organism.NewRateLimitedTier(tier, cfg.Organism.RateLimit, cfg.Organism.RateBurst)
	}
	if infra.Redis != nil {
		cache := redisclient.NewCache(infra.Redis, logger, redisclient.WithNamespace("organism"))
		opts := []organism.CachedTierOption{organism.WithNegativeTTL(cfg.Organism.NegativeTTL)}
		if metrics != nil {
			opts = append(opts, organism.WithCacheMetrics(metrics))
		}
		tier = organism.NewCachedTier(tier, cache, cfg.Organism.CacheTTL, logger, opts...)
	}
	return tier, nil
}

// palette layers configured colors over the built-in ones.
func palette(configured map[annotation.Category]string) assembler.Palette {
	out := make(assembler.Palette, len(assembler.DefaultPalette)+len(configured))
	for c, color := range assembler.DefaultPalette {
		out[c] = color
	}
	for c, color := range configured {
		out[c] = color
	}
	return out
}

// BuildService wraps an Annotator in the application service.  Manual
// overlays need Postgres; their cache needs Redis.  metrics may be nil.
func BuildService(a *Annotator, infra *Infrastructure, sinks []appannotation.NamedSink, metrics *prometheus.AnnotationMetrics, logger logging.Logger) (appannotation.Service, error) {
	deps := appannotation.Deps{
		Runner:    a.Pipeline,
		Validator: a.Validator,
		Sinks:     sinks,
		Logger:    logger,
	}
	if infra != nil && infra.Postgres != nil {
		deps.Repository = pgrepo.NewPostgresManualAnnotationRepo(infra.Postgres, logger)
	}
	if infra != nil && infra.Redis != nil {
		deps.Cache = redisclient.NewCache(infra.Redis, logger, redisclient.WithNamespace("overlay"))
	}
	if metrics != nil {
		deps.Metrics = metrics
	}
	return appannotation.NewService(appannotation.Config{}, deps)
}

// BuildSyncer connects the dictionary directory to the MinIO bucket.  The
// registry, when given, is reloaded after each install.
func BuildSyncer(cfg *config.Config, infra *Infrastructure, registry *dictionary.Registry, logger logging.Logger) (*appdictionary.Syncer, error) {
	if infra == nil || infra.MinIO == nil {
		return nil, errors.New(errors.CodeInvalidParam, "dictionary sync: minio is not connected")
	}
	store := minioclient.NewArtifactStore(infra.MinIO, cfg.Dictionary.Prefix, logger)

	opts := []appdictionary.SyncerOption{appdictionary.WithSink(store)}
	if registry != nil {
		opts = append(opts, appdictionary.WithReloader(registry))
	}
	if infra.Redis != nil {
		opts = append(opts, appdictionary.WithLocker(redisclient.NewMutex(infra.Redis, dictionarySyncLock, logger)))
	}
	return appdictionary.NewSyncer(RegistryConfig(cfg), store, logger, opts...), nil
}
