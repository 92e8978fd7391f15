package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
)

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	assert.Equal(t, DefaultDefaultWordLimit, cfg.Annotation.DefaultWordLimit)
	assert.Equal(t, 1, cfg.Annotation.CategoryWordLimits["Gene"])
	assert.Equal(t, 4, cfg.Annotation.CategoryWordLimits["Food"])
	assert.Equal(t, "9606", cfg.Annotation.DefaultOrganism)
	assert.Equal(t, 2*time.Second, cfg.Annotation.LookupTimeout)
	assert.Equal(t, "none", cfg.Organism.TierOne)
	assert.Equal(t, "none", cfg.Organism.TierTwo)
	assert.Equal(t, DefaultKafkaDLQTopic, cfg.Kafka.DLQTopic)
	assert.Equal(t, "", cfg.Redis.Addr)
	assert.Equal(t, DefaultLogFormat, cfg.Log.Format)
}

func TestApplyDefaults_PreserveExistingValues(t *testing.T) {
	cfg := &Config{}
	cfg.Server.Port = 9999
	cfg.Annotation.CategoryWordLimits = map[string]int{"Gene": 2}
	ApplyDefaults(cfg)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, map[string]int{"Gene": 2, "Food": 4}, cfg.Annotation.CategoryWordLimits)
}

func TestApplyDefaults_PartialWordLimitsKeepOtherDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.Annotation.CategoryWordLimits = map[string]int{"disease": 5, "food": 2}
	ApplyDefaults(cfg)

	limits := cfg.Annotation.WordLimits()
	assert.Equal(t, 5, limits[annotation.CategoryDisease])
	assert.Equal(t, 2, limits[annotation.CategoryFood], "user value wins regardless of key case")
	assert.Equal(t, 1, limits[annotation.CategoryGene])
	assert.Len(t, cfg.Annotation.CategoryWordLimits, 3)
}

func TestApplyDefaults_Nil(t *testing.T) {
	assert.NotPanics(t, func() { ApplyDefaults(nil) })
}
