package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paypersist/internal/broker"
	"paypersist/internal/config"
	"paypersist/internal/constants"
	"paypersist/internal/logger"
)

func newTestApp(cfg *config.Config) *App {
	app := NewApp(cfg, logger.NopLogger())
	app.initStores()
	app.initRouter(context.Background())
	return app
}

func TestApp_RouterExposesIngestAndOperationalRoutes(t *testing.T) {
	app := newTestApp(&config.Config{})

	routes := make(map[string]bool)
	for _, r := range app.router.Routes() {
		routes[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"POST /api/v1/messages",
		"PUT /api/v1/messages/:id",
		"GET /api/v1/messages/:id",
		"POST /api/v1/messages/batch",
		"POST /api/v1/cdm",
		"GET /api/v1/cdm/:id",
		"POST /api/v1/cdm/batch",
		"GET /api/v1/batches",
		"GET /api/v1/batches/:id",
		"GET /health",
		"GET /metrics",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestApp_StoresWithoutOptionalBackends(t *testing.T) {
	app := newTestApp(&config.Config{})

	require.NotNil(t, app.messages)
	require.NotNil(t, app.cdms)
	require.NotNil(t, app.batches)
	assert.NotNil(t, app.auditor)
}

func TestApp_KafkaEnabled(t *testing.T) {
	tests := []struct {
		name   string
		broker config.BrokerConfig
		want   bool
	}{
		{"no broker", config.BrokerConfig{}, false},
		{"kafka without brokers", config.BrokerConfig{Type: "kafka"}, false},
		{"kafka", config.BrokerConfig{Type: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := NewApp(&config.Config{Broker: tt.broker}, logger.NopLogger())
			assert.Equal(t, tt.want, app.kafkaEnabled())
		})
	}
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, constants.DefaultRawTopic, orDefault("", constants.DefaultRawTopic))
	assert.Equal(t, "custom", orDefault("custom", constants.DefaultRawTopic))
}

type idleConsumer struct {
	mu     sync.Mutex
	topics []string
}

func (c *idleConsumer) Consume(ctx context.Context, topic string, _ broker.HandlerFunc) error {
	c.mu.Lock()
	c.topics = append(c.topics, topic)
	c.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (c *idleConsumer) Close() error { return nil }
func (c *idleConsumer) SetServiceName(string) {}

func (c *idleConsumer) started() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

func newKafkaTestApp(t *testing.T) (*App, *atomic.Bool) {
	t.Helper()
	app := newTestApp(&config.Config{
		Broker: config.BrokerConfig{Type: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}},
	})

	serving := &atomic.Bool{}
	app.server = &http.Server{
		Addr:    "127.0.0.1:0",
		Handler: app.router,
		BaseContext: func(net.Listener) context.Context {
			serving.Store(true)
			return context.Background()
		},
	}
	return app, serving
}

func TestApp_RunDoesNotServeWhenConsumerCreationFails(t *testing.T) {
	app, serving := newKafkaTestApp(t)
	app.newConsumer = func() (broker.Consumer, error) {
		return nil, errors.New("unknown broker type: nats")
	}

	err := app.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create consumer for "+constants.DefaultRawTopic)
	assert.Never(t, serving.Load, 200*time.Millisecond, 10*time.Millisecond)
}

func TestApp_RunConsumesAllTopicsUntilCanceled(t *testing.T) {
	app, _ := newKafkaTestApp(t)
	consumer := &idleConsumer{}
	app.newConsumer = func() (broker.Consumer, error) { return consumer, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(consumer.started()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t, []string{constants.DefaultRawTopic, constants.DefaultCdmTopic, constants.DefaultBatchTopic}, consumer.started())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
