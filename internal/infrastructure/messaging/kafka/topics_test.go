package kafka

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/BioAnnotator/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/BioAnnotator/pkg/errors"
)

type mockKafkaConn struct {
	existing  map[string]bool
	created   []kafka.TopicConfig
	createErr error
}

func (m *mockKafkaConn) CreateTopics(topics ...kafka.TopicConfig) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, topics...)
	return nil
}

func (m *mockKafkaConn) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	if m.existing[topics[0]] {
		return []kafka.Partition{{Topic: topics[0]}}, nil
	}
	return nil, kafka.UnknownTopicOrPartition
}

func (m *mockKafkaConn) Close() error { return nil }

func TestEnsureTopics_CreatesOnlyMissing(t *testing.T) {
	conn := &mockKafkaConn{existing: map[string]bool{TopicJobRequested: true}}
	m := &TopicManager{conn: conn, logger: logging.NewNopLogger()}

	err := m.EnsureTopics(context.Background(), AnnotationTopics(TopicJobRequested, TopicJobCompleted, TopicJobDLQ, 6, 1))
	require.NoError(t, err)
	require.Len(t, conn.created, 2)
	assert.Equal(t, TopicJobCompleted, conn.created[0].Topic)
	assert.Equal(t, 6, conn.created[0].NumPartitions)
	assert.Equal(t, TopicJobDLQ, conn.created[1].Topic)
	assert.Equal(t, 1, conn.created[1].NumPartitions)
}

func TestCreateTopic_AlreadyExistsRace(t *testing.T) {
	conn := &mockKafkaConn{createErr: kafka.TopicAlreadyExists}
	m := &TopicManager{conn: conn, logger: logging.NewNopLogger()}
	assert.NoError(t, m.CreateTopic(context.Background(), TopicConfig{Name: "x", NumPartitions: 1, ReplicationFactor: 1}))
}

func TestCreateTopic_Validation(t *testing.T) {
	m := &TopicManager{conn: &mockKafkaConn{}, logger: logging.NewNopLogger()}
	err := m.CreateTopic(context.Background(), TopicConfig{Name: "x", ReplicationFactor: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestEventEnvelope_RoundTrip(t *testing.T) {
	type payload struct {
		DocumentID string `json:"document_id"`
	}
	env, err := NewEventEnvelope(EventJobRequested, "test", payload{DocumentID: "doc-1"})
	require.NoError(t, err)

	msg, err := env.ToMessage(TopicJobRequested, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", string(msg.Key))
	assert.Equal(t, EventJobRequested, msg.Headers["event_type"])

	decoded, err := MessageToEventEnvelope(&Message{Value: msg.Value})
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)

	var p payload
	require.NoError(t, decoded.DecodePayload(&p))
	assert.Equal(t, "doc-1", p.DocumentID)
}

func TestEventEnvelope_Errors(t *testing.T) {
	_, err := MessageToEventEnvelope(&Message{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))

	_, err = MessageToEventEnvelope(&Message{Value: []byte("{")})
	assert.True(t, errors.IsCode(err, errors.ErrCodeSerialization))

	var v struct{}
	assert.True(t, errors.IsCode((&EventEnvelope{}).DecodePayload(&v), errors.ErrCodeValidation))
}
