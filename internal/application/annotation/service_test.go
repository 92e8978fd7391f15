package annotation

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/annotation/pipeline"
	domain "github.com/turtacn/BioAnnotator/internal/domain/annotation"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/database/redis"
	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/internal/testutil"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

// MockManualRepository is a mock implementation of domain.ManualAnnotationRepository.
type MockManualRepository struct {
	mock.Mock
}

func (m *MockManualRepository) ListGlobalExclusions(ctx context.Context) ([]domain.ManualAnnotation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ManualAnnotation), args.Error(1)
}

func (m *MockManualRepository) ListLocal(ctx context.Context, documentID string) ([]domain.ManualAnnotation, []domain.ManualAnnotation, error) {
	args := m.Called(ctx, documentID)
	var exc, inc []domain.ManualAnnotation
	if v := args.Get(0); v != nil {
		exc = v.([]domain.ManualAnnotation)
	}
	if v := args.Get(1); v != nil {
		inc = v.([]domain.ManualAnnotation)
	}
	return exc, inc, args.Error(2)
}

func (m *MockManualRepository) Save(ctx context.Context, a *domain.ManualAnnotation) error {
	return m.Called(ctx, a).Error(0)
}

func (m *MockManualRepository) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// recordingRunner captures the pipeline input and returns a canned result.
type recordingRunner struct {
	inputs []pipeline.Input
	result *pipeline.Result
	err    error
}

func (r *recordingRunner) Run(_ context.Context, in pipeline.Input) (*pipeline.Result, error) {
	r.inputs = append(r.inputs, in)
	return r.result, r.err
}

type sinkFunc func(ctx context.Context, documentID string, anns []domain.Annotation) error

func (f sinkFunc) Publish(ctx context.Context, documentID string, anns []domain.Annotation) error {
	return f(ctx, documentID, anns)
}

type sinkRecorder struct{ calls map[string]int }

func (r *sinkRecorder) RecordSink(sink string, err error) {
	r.calls[fmt.Sprintf("%s:%v", sink, err == nil)]++
}

func newMiniCache(t *testing.T) (*redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.NewCache(redis.NewClientFromUniversal(rdb, "test:", nil), logging.NewNopLogger()), mr
}

func okResult() *pipeline.Result {
	return &pipeline.Result{
		Annotations: []domain.Annotation{{UUID: "a-1", Text: "cancer", KeywordType: domain.CategoryDisease}},
		Warnings:    []*errors.AppError{errors.New(errors.CodeDictionaryUnavailable, "dictionary unavailable").WithDetail("Chemical")},
		Stats:       pipeline.Stats{Annotations: 1},
	}
}

func TestAnnotate_MergesStoredAndRequestOverlays(t *testing.T) {
	repo := new(MockManualRepository)
	global := []domain.ManualAnnotation{{ID: "g1", Kind: domain.KindExclusion, Scope: domain.ScopeGlobal, TextValue: "group"}}
	stored := []domain.ManualAnnotation{{ID: "i1", Kind: domain.KindInclusion, TextValue: "ACE2", EntityID: "59272"}}
	repo.On("ListGlobalExclusions", mock.Anything).Return(global, nil).Once()
	repo.On("ListLocal", mock.Anything, "doc-1").Return(nil, stored, nil)

	cache, _ := newMiniCache(t)
	runner := &recordingRunner{result: okResult()}
	svc, err := NewService(Config{}, Deps{Runner: runner, Repository: repo, Cache: cache})
	require.NoError(t, err)

	reqInclusion := domain.ManualAnnotation{TextValue: "ACE2", EntityID: "override"}
	for i := 0; i < 2; i++ {
		res, err := svc.Annotate(context.Background(), &DocumentRequest{
			DocumentID:      "doc-1",
			Text:            "ACE2",
			LocalInclusions: []domain.ManualAnnotation{reqInclusion},
		})
		require.NoError(t, err)
		assert.Equal(t, "doc-1", res.DocumentID)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, string(errors.CodeDictionaryUnavailable), res.Warnings[0].Code)
		assert.Equal(t, "Chemical", res.Warnings[0].Detail)
	}

	require.Len(t, runner.inputs, 2)
	in := runner.inputs[1]
	assert.Equal(t, "doc-1", in.Document.ID)
	require.Len(t, in.Overlays.GlobalExclusions, 1)
	assert.Equal(t, "g1", in.Overlays.GlobalExclusions[0].ID)
	require.Len(t, in.Overlays.LocalInclusions, 2)
	assert.Equal(t, "override", in.Overlays.LocalInclusions[1].EntityID, "request inclusions come last")
	repo.AssertExpectations(t)
}

func TestAnnotate_WithoutRepository(t *testing.T) {
	runner := &recordingRunner{result: &pipeline.Result{}}
	svc, err := NewService(Config{}, Deps{Runner: runner})
	require.NoError(t, err)

	res, err := svc.Annotate(context.Background(), &DocumentRequest{Text: "x"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.DocumentID, "a document id is generated")
	assert.NotNil(t, res.Annotations)
	assert.Empty(t, runner.inputs[0].Overlays.GlobalExclusions)
}

func TestAnnotate_RepositoryFailureIsFatal(t *testing.T) {
	repo := new(MockManualRepository)
	repo.On("ListGlobalExclusions", mock.Anything).Return(nil, fmt.Errorf("connection refused"))
	runner := &recordingRunner{result: okResult()}
	svc, _ := NewService(Config{}, Deps{Runner: runner, Repository: repo})

	_, err := svc.Annotate(context.Background(), &DocumentRequest{DocumentID: "doc-1"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDatabaseError))
	assert.Empty(t, runner.inputs)
}

func TestAnnotate_PipelineErrorSkipsSinks(t *testing.T) {
	called := false
	runner := &recordingRunner{err: errors.New(errors.CodeMalformedLayout, "layout mismatch")}
	svc, _ := NewService(Config{}, Deps{
		Runner: runner,
		Sinks: []NamedSink{{Name: "opensearch", Sink: sinkFunc(func(context.Context, string, []domain.Annotation) error {
			called = true
			return nil
		})}},
	})

	res, err := svc.Annotate(context.Background(), &DocumentRequest{DocumentID: "doc-1"})
	assert.Nil(t, res)
	assert.True(t, errors.IsCode(err, errors.CodeMalformedLayout))
	assert.False(t, called)
}

func TestAnnotate_SinkFailureReturnsResultAndError(t *testing.T) {
	recorder := &sinkRecorder{calls: map[string]int{}}
	var published []string
	ok := sinkFunc(func(_ context.Context, id string, anns []domain.Annotation) error {
		published = append(published, id)
		return nil
	})
	broken := sinkFunc(func(context.Context, string, []domain.Annotation) error {
		return fmt.Errorf("index closed")
	})
	logger := testutil.NewMockLogger()
	svc, _ := NewService(Config{}, Deps{
		Runner:  &recordingRunner{result: okResult()},
		Sinks:   []NamedSink{{Name: "broken", Sink: broken}, {Name: "ok", Sink: ok}},
		Metrics: recorder,
		Logger:  logger,
	})

	res, err := svc.Annotate(context.Background(), &DocumentRequest{DocumentID: "doc-9"})
	require.NotNil(t, res)
	assert.True(t, errors.IsCode(err, errors.ErrCodeExternalService))
	assert.Equal(t, []string{"doc-9"}, published, "remaining sinks still run")
	assert.Equal(t, map[string]int{"broken:false": 1, "ok:true": 1}, recorder.calls)
	v, found := logger.Field("annotation sink failed", "sink")
	assert.True(t, found)
	assert.Equal(t, "broken", v)
}

func TestAddManual(t *testing.T) {
	t.Run("global exclusion invalidates cache", func(t *testing.T) {
		repo := new(MockManualRepository)
		repo.On("Save", mock.Anything, mock.AnythingOfType("*annotation.ManualAnnotation")).Return(nil)
		cache, mr := newMiniCache(t)
		require.NoError(t, cache.Set(context.Background(), globalExclusionsKey, []domain.ManualAnnotation{}, 0))
		require.True(t, mr.Exists("test:"+globalExclusionsKey))

		svc, _ := NewService(Config{}, Deps{Runner: &recordingRunner{}, Repository: repo, Cache: cache})
		saved, err := svc.AddManual(context.Background(), &domain.ManualAnnotation{
			Kind: domain.KindExclusion, Scope: domain.ScopeGlobal, TextValue: "group",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)
		assert.False(t, saved.CreatedAt.IsZero())
		assert.False(t, mr.Exists("test:"+globalExclusionsKey))
	})

	t.Run("local annotation needs a document", func(t *testing.T) {
		svc, _ := NewService(Config{}, Deps{Runner: &recordingRunner{}, Repository: new(MockManualRepository)})
		_, err := svc.AddManual(context.Background(), &domain.ManualAnnotation{
			Kind: domain.KindInclusion, Scope: domain.ScopeLocal, TextValue: "ACE2", EntityID: "59272",
		})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidManualAnnotation))
	})

	t.Run("global inclusion rejected", func(t *testing.T) {
		svc, _ := NewService(Config{}, Deps{Runner: &recordingRunner{}, Repository: new(MockManualRepository)})
		_, err := svc.AddManual(context.Background(), &domain.ManualAnnotation{
			Kind: domain.KindInclusion, Scope: domain.ScopeGlobal, TextValue: "ACE2", EntityID: "59272",
		})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidManualAnnotation))
	})

	t.Run("validator error propagates", func(t *testing.T) {
		repo := new(MockManualRepository)
		svc, _ := NewService(Config{}, Deps{
			Runner:     &recordingRunner{},
			Repository: repo,
			Validator: validatorFunc(func(*domain.ManualAnnotation) error {
				return errors.New(errors.CodeInvalidManualAnnotation, "too many words")
			}),
		})
		_, err := svc.AddManual(context.Background(), &domain.ManualAnnotation{
			Kind: domain.KindInclusion, Scope: domain.ScopeLocal, DocumentID: "d", TextValue: "a b c",
		})
		assert.True(t, errors.IsCode(err, errors.CodeInvalidManualAnnotation))
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})
}

type validatorFunc func(*domain.ManualAnnotation) error

func (f validatorFunc) Validate(m *domain.ManualAnnotation) error { return f(m) }

func TestListAndRemoveManual(t *testing.T) {
	repo := new(MockManualRepository)
	repo.On("ListGlobalExclusions", mock.Anything).Return([]domain.ManualAnnotation{{ID: "g"}}, nil)
	repo.On("ListLocal", mock.Anything, "doc-1").Return([]domain.ManualAnnotation{{ID: "e"}}, []domain.ManualAnnotation{{ID: "i"}}, nil)
	repo.On("Delete", mock.Anything, "e").Return(nil)

	svc, _ := NewService(Config{}, Deps{Runner: &recordingRunner{}, Repository: repo})
	o, err := svc.ListManual(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Len(t, o.GlobalExclusions, 1)
	assert.Len(t, o.LocalExclusions, 1)
	assert.Len(t, o.LocalInclusions, 1)

	require.NoError(t, svc.RemoveManual(context.Background(), "e", domain.ScopeLocal))
	assert.True(t, errors.IsCode(svc.RemoveManual(context.Background(), "", domain.ScopeLocal), errors.CodeInvalidParam))
	repo.AssertExpectations(t)
}

func TestNewService_RequiresRunner(t *testing.T) {
	_, err := NewService(Config{}, Deps{})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}
