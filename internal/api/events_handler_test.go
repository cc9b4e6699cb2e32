package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clapcheck/clapcheck/internal/events"
)

// eventsRequest builds an SSE request whose context is already canceled, so
// the handler writes the replay and returns instead of streaming forever.
func eventsRequest(lastEventID string) *http.Request {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil).WithContext(ctx)
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	return req
}

func TestEventsReplay(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TopicRunStarted, events.RunStarted{RunID: "r1", Total: 3})
	hub.Publish(events.TopicRunFinished, events.RunFinished{RunID: "r1", Total: 3})

	server := newTestServer(&stubValidator{}, hub)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, eventsRequest(""))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.Contains(t, body, "id: 1\n")
	assert.Contains(t, body, "event: run.started\n")
	assert.Contains(t, body, "id: 2\n")
	assert.Contains(t, body, "event: run.finished\n")
	assert.Contains(t, body, `"run_id":"r1"`)
}

func TestEventsResumeFromLastEventID(t *testing.T) {
	hub := events.NewHub(16)
	hub.Publish(events.TopicRunStarted, events.RunStarted{RunID: "r1", Total: 3})
	hub.Publish(events.TopicRunFinished, events.RunFinished{RunID: "r1", Total: 3})

	server := newTestServer(&stubValidator{}, hub)
	rr := httptest.NewRecorder()
	server.Routes().ServeHTTP(rr, eventsRequest("1"))

	body := rr.Body.String()
	assert.NotContains(t, body, "event: run.started\n")
	assert.Contains(t, body, "event: run.finished\n")
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(0), parseLastEventID(""))
	assert.Equal(t, int64(0), parseLastEventID("not-a-number"))
	assert.Equal(t, int64(0), parseLastEventID("-4"))
	assert.Equal(t, int64(17), parseLastEventID("17"))
}
