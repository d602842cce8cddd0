package pagerduty

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/docflow/internal/observability/notify"
)

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{})
	require.Error(t, err)
}

func TestBuildEventDefaults(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Timeout: time.Second})
	require.NoError(t, err)

	event := client.buildEvent(notify.JobFailurePayload{
		JobID:        "123",
		EndpointType: "classify",
		RetryCount:   3,
		Error:        "boom",
		ErrorClass:   "storage",
		Metadata:     map[string]string{"job_id": "shadowed", "region": "eu"},
	})

	section, ok := event["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, notify.SeverityCritical, section["severity"])
	assert.Equal(t, "docflow", section["source"])
	assert.Equal(t, "worker", section["component"])
	assert.Equal(t, "classify job 123 failed: storage", section["summary"])
	assert.Equal(t, "storage", section["class"])
	assert.Equal(t, "classify", section["group"])

	custom, ok := section["custom_details"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"job_id", "endpoint_type", "error", "error_class", "retry_count"} {
		assert.Contains(t, custom, key)
	}
	assert.Equal(t, "123", custom["job_id"])
	assert.Equal(t, "eu", custom["region"])
	assert.Equal(t, "docflow-job:123", event["dedup_key"])
}

func TestBuildEventGradesTransientFailures(t *testing.T) {
	client, err := NewClient(Config{RoutingKey: "key", Component: "reaper"})
	require.NoError(t, err)

	event := client.buildEvent(notify.JobFailurePayload{
		JobID:        "j-7",
		EndpointType: "analyze",
		TotalFiles:   4,
		RetryCount:   3,
		Transient:    true,
		ErrorClass:   "db_connection",
	})
	section := event["payload"].(map[string]any)
	assert.Equal(t, notify.SeverityCritical, section["severity"])
	assert.Equal(t, "reaper", section["component"])
	assert.Equal(t, "analyze job j-7 failed after 3 retries (4 files): db_connection", section["summary"])
	assert.Equal(t, true, section["custom_details"].(map[string]any)["transient"])

	event = client.buildEvent(notify.JobFailurePayload{JobID: "j-8", ErrorClass: "no_file_data"})
	section = event["payload"].(map[string]any)
	assert.Equal(t, notify.SeverityWarning, section["severity"])
	assert.Equal(t, "document job j-8 failed: no_file_data", section["summary"])

	event = client.buildEvent(notify.JobFailurePayload{JobID: "j-9", Severity: "WARNING"})
	section = event["payload"].(map[string]any)
	assert.Equal(t, notify.SeverityWarning, section["severity"])
	assert.NotContains(t, section, "class")
}

func TestSendJobFailurePostsToEndpoint(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	require.NoError(t, err)
	require.NoError(t, client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "9"}))
	assert.Equal(t, "rk", got["routing_key"])
	assert.Equal(t, "trigger", got["event_action"])
}

func TestSendJobFailureReportsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid routing key", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	require.NoError(t, err)
	err = client.SendJobFailure(context.Background(), notify.JobFailurePayload{JobID: "9"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid routing key")
}
