package kafka_config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvKafkaEnabled, "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	assert.Equal(t, DefaultInboundTopic, cfg.InboundTopic)
	assert.Equal(t, DefaultEventsTopic, cfg.EventsTopic)
	assert.Empty(t, cfg.DLQTopic)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv(EnvKafkaEnabled, "true")
	t.Setenv(EnvKafkaBrokers, " k1:9092, k2:9092 ,")
	t.Setenv(EnvKafkaEventsTopic, "matches")
	t.Setenv(EnvKafkaConsumerMaxRetries, "5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Brokers)
	assert.Equal(t, "matches", cfg.EventsTopic)
	assert.Equal(t, 5, cfg.ConsumerMaxRetries)
}

func TestLoad_DisabledSkipsValidation(t *testing.T) {
	t.Setenv(EnvKafkaEnabled, "false")
	t.Setenv(EnvKafkaProducerCompression, "brotli")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
}

func TestValidate(t *testing.T) {
	t.Setenv(EnvKafkaEnabled, "true")
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no brokers", func(c *Config) { c.Brokers = nil }},
		{"same topics", func(c *Config) { c.EventsTopic = c.InboundTopic }},
		{"bad compression", func(c *Config) { c.ProducerCompression = "brotli" }},
		{"bad acks", func(c *Config) { c.ProducerRequireAcks = 2 }},
		{"bad offset", func(c *Config) { c.ConsumerStartOffset = 7 }},
		{"zero max wait", func(c *Config) { c.ConsumerMaxWait = 0 }},
		{"negative retries", func(c *Config) { c.ConsumerMaxRetries = -1 }},
		{"empty group", func(c *Config) { c.GroupID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
