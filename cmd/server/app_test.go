package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/phrazzld/asyncbg/internal/broker"
	"github.com/phrazzld/asyncbg/internal/broker/brokertest"
	"github.com/phrazzld/asyncbg/internal/config"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/phrazzld/asyncbg/internal/producer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(redisURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "debug"},
		Kafka: config.KafkaConfig{
			AutoOffsetReset:   "earliest",
			PublishTimeoutSec: 10,
		},
		Status: config.StatusConfig{
			Backend:         config.StatusBackendRedis,
			ResponseHoldSec: 60,
		},
		Redis: config.RedisConfig{URL: redisURL},
		Supervisor: config.SupervisorConfig{
			ConsumersCount: 1,
		},
	}
}

// newTestApplication builds an application over miniredis, swapping the Kafka
// producer for one backed by the in-memory broker.
func newTestApplication(t *testing.T) (*application, *brokertest.Broker) {
	t.Helper()

	log, _ := logger.GetTestLogger(t)
	mr := miniredis.RunT(t)

	cfg := testConfig("redis://" + mr.Addr() + "/0")
	cfg.Kafka.TopicAsyncRequest = "async-request"

	app, err := newApplication(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)

	b := brokertest.New()
	app.registry = broker.NewRegistry(b.Factory(), log)
	app.producer = producer.New(app.registry, app.backend.Store, log)

	return app, b
}

func TestNewApplication_RedisBackend(t *testing.T) {
	log, logBuf := logger.GetTestLogger(t)
	mr := miniredis.RunT(t)

	app, err := newApplication(context.Background(), testConfig("redis://"+mr.Addr()+"/0"), log)
	require.NoError(t, err)
	defer app.cleanup()

	assert.NotNil(t, app.backend.Store)
	assert.NotNil(t, app.backend.Subscriber)
	assert.Nil(t, app.backend.Purger)
	assert.Nil(t, app.producer, "producer stays disabled without Kafka settings")
	logger.AssertLogContains(t, logBuf, "Kafka is not configured")
}

func TestNewApplication_RedisUnreachable(t *testing.T) {
	log, _ := logger.GetTestLogger(t)

	_, err := newApplication(context.Background(), testConfig("redis://127.0.0.1:1/0"), log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect status redis")
}

func TestNewApplication_KafkaEnabled(t *testing.T) {
	log, _ := logger.GetTestLogger(t)
	mr := miniredis.RunT(t)

	cfg := testConfig("redis://" + mr.Addr() + "/0")
	cfg.Kafka.BootstrapServers = "localhost:9092"
	cfg.Kafka.TopicAsyncRequest = "async-request"

	// Clients are created lazily, so no broker needs to be running here
	app, err := newApplication(context.Background(), cfg, log)
	require.NoError(t, err)
	defer app.cleanup()

	assert.NotNil(t, app.registry)
	assert.NotNil(t, app.producer)
}

func TestRouter_Health(t *testing.T) {
	app, _ := newTestApplication(t)

	rr := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}

func TestRouter_Metrics(t *testing.T) {
	app, _ := newTestApplication(t)

	rr := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "asyncbg_")
}

func TestRouter_EnqueueAndRead(t *testing.T) {
	app, b := newTestApplication(t)
	router := app.setupRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/demo/enqueue/", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Authorization", "Bearer room-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)

	var enqueued struct {
		Meta struct {
			TaskID string `json:"task_id"`
		} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &enqueued))
	require.Len(t, b.Published(), 1)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/async_background_response/"+enqueued.Meta.TaskID+"/?full_response=1", nil)
	req.Header.Set("Authorization", "Bearer room-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"pending","channel_name":"room-1","response":null}`, rr.Body.String())
}

func TestRouter_EnqueueSharesOneClientAcrossRequests(t *testing.T) {
	app, b := newTestApplication(t)
	router := app.setupRouter()

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/demo/enqueue/", strings.NewReader(`{"message":"hi"}`))
		req.Header.Set("Authorization", "Bearer room-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	assert.Len(t, b.Published(), 3)
	assert.Len(t, b.Clients(), 1)
	assert.Equal(t, 1, app.registry.Len())
}

func TestRouter_RequiresChannel(t *testing.T) {
	app, _ := newTestApplication(t)

	rr := httptest.NewRecorder()
	app.setupRouter().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/async_background_response/x/", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestStartHTTPServer_StopsOnCancel(t *testing.T) {
	app, _ := newTestApplication(t)
	app.config.Server.Port = freePort(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.startHTTPServer(ctx, app.setupRouter())
	}()

	url := "http://127.0.0.1:" + strconv.Itoa(app.config.Server.Port) + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "OK"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
