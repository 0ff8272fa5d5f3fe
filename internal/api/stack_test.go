package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/asyncbg/internal/api/middleware"
	"github.com/phrazzld/asyncbg/internal/broker"
	"github.com/phrazzld/asyncbg/internal/broker/brokertest"
	"github.com/phrazzld/asyncbg/internal/channel"
	"github.com/phrazzld/asyncbg/internal/platform/logger"
	"github.com/phrazzld/asyncbg/internal/platform/redis"
	"github.com/phrazzld/asyncbg/internal/producer"
	"github.com/phrazzld/asyncbg/internal/status"
	"github.com/phrazzld/asyncbg/internal/task"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stack struct {
	server *httptest.Server
	broker *brokertest.Broker
	store  *redis.Store
}

// newStack serves the task and notification routes over real components:
// the producer, a miniredis-backed status store and an in-memory broker.
func newStack(t *testing.T) *stack {
	t.Helper()

	log, _ := logger.GetTestLogger(t)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redis.NewStore(client, time.Hour, log)

	b := brokertest.New()
	registry := broker.NewRegistry(b.Factory(), log)
	t.Cleanup(func() { _ = registry.Close() })

	tasks := NewTaskHandler(producer.New(registry, store, log), status.NewReader(store, log), testTopic, log)
	notifications := NewNotificationHandler(store, log)

	r := chi.NewRouter()
	r.Use(middleware.NewTraceMiddleware(log))
	r.Use(middleware.NewContextIDMiddleware(broker.NewContextID()))
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewChannelMiddleware(channel.NewResolver("")).RequireChannel)
		r.Post("/api/v1/demo/enqueue/", tasks.EnqueueDemo)
		r.Get("/api/v1/async_background_response/{"+TaskIDParam+"}/", tasks.GetStatus)
		r.Get("/api/v1/async_background_ws/", notifications.Stream)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &stack{server: srv, broker: b, store: store}
}

func (s *stack) enqueue(t *testing.T, token, message string) string {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/v1/demo/enqueue/",
		strings.NewReader(`{"message":"`+message+`"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		Data json.RawMessage `json:"data"`
		Meta struct {
			TaskID string `json:"task_id"`
		} `json:"meta"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Meta.TaskID)
	return body.Meta.TaskID
}

func (s *stack) getStatus(t *testing.T, token, taskID, query string) (int, string) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet,
		s.server.URL+"/api/v1/async_background_response/"+taskID+"/"+query, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestEnqueueThenReadStatus(t *testing.T) {
	s := newStack(t)

	taskID := s.enqueue(t, "room-1", "hello")

	published := s.broker.Published()
	require.Len(t, published, 1)
	assert.Equal(t, testTopic, published[0].Topic)
	assert.Equal(t, []byte("room-1"), published[0].Key)

	env, err := task.DecodeEnvelope(published[0].Value)
	require.NoError(t, err)
	assert.Equal(t, taskID, env.TaskID)
	assert.Equal(t, "room-1", env.ChannelName)
	assert.JSONEq(t, `{"message":"hello"}`, string(env.Payload))

	code, body := s.getStatus(t, "room-1", taskID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"not ready"}`, body)

	code, body = s.getStatus(t, "room-1", taskID, "?full_response=true")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"pending","channel_name":"room-1","response":null}`, body)

	code, _ = s.getStatus(t, "room-2", taskID, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.getStatus(t, "room-1", "does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestEnqueue_BrokerDown(t *testing.T) {
	s := newStack(t)
	s.broker.FailPublish(broker.ErrUnavailable)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/v1/demo/enqueue/",
		strings.NewReader(`{"message":"hello"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer room-1")

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, s.broker.Published())
}
