package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/ScreenPipe/internal/engine"
	"github.com/BTreeMap/ScreenPipe/internal/store"
	"github.com/BTreeMap/ScreenPipe/internal/testutil"
)

func newTestServer(t *testing.T, oracle *testutil.MockOracle) http.Handler {
	t.Helper()
	eng, err := engine.New(store.NewInMemoryStore(), oracle)
	if err != nil {
		t.Fatalf("engine.New failed: %v", err)
	}
	return NewServer(eng).Handler()
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /health")
	testutil.AssertJSONResponse(t, rr, "ok")
}

func TestStartSessionEndpoint(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "POST /sessions")
	response := testutil.AssertJSONResponse(t, rr, "ok")

	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing result: %v", response)
	}
	if result["current_item_id"] != "D1" {
		t.Errorf("first item = %v, want D1", result["current_item_id"])
	}
}

func TestStartSessionDuplicateConflict(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "first start")

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "duplicate start")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestStartSessionValidation(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions", StartSessionRequest{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing conversation_id")

	badReq, err := http.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString("{not json"))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, badReq)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed JSON")
}

func TestPostMessageEndpoint(t *testing.T) {
	oracle := &testutil.MockOracle{ScoreItemsFn: testutil.FixedScore(1, 2)}
	handler := newTestServer(t, oracle)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "start session")

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/conv-1/messages",
		PostMessageRequest{Text: "only now and then"})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST message")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing result: %v", response)
	}
	if result["phase"] != "ASK_ITEM" {
		t.Errorf("phase = %v, want ASK_ITEM", result["phase"])
	}
}

func TestPostMessageUnknownSession(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/no-such-conv/messages",
		PostMessageRequest{Text: "hello"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown session")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestPostMessageValidation(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/conv-1/messages",
		PostMessageRequest{})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty text")
}

func TestGetSessionEndpoint(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/conv-1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET session")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing result: %v", response)
	}
	if result["conversation_id"] != "conv-1" {
		t.Errorf("conversation_id = %v", result["conversation_id"])
	}
}

func TestGetSessionNotFound(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/no-such-conv", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "GET missing session")
}

func TestListSessionsEndpoint(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	for _, conv := range []string{"conv-1", "conv-2"} {
		req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
			StartSessionRequest{ConversationID: conv})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "start "+conv)
	}

	req := testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /sessions")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	sessions, ok := response["result"].([]interface{})
	if !ok {
		t.Fatalf("response missing result list: %v", response)
	}
	if len(sessions) != 2 {
		t.Errorf("session count = %d, want 2", len(sessions))
	}
}

func TestGetResponsesEndpoint(t *testing.T) {
	oracle := &testutil.MockOracle{ScoreItemsFn: testutil.FixedScore(2, 2)}
	handler := newTestServer(t, oracle)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/conv-1/messages",
		PostMessageRequest{Text: "about half the days, I think"})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "post message")

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/conv-1/responses", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET responses")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	responses, ok := response["result"].([]interface{})
	if !ok {
		t.Fatalf("response missing result list: %v", response)
	}
	if len(responses) != 1 {
		t.Errorf("response count = %d, want 1", len(responses))
	}
}

func TestGetIntegrityEndpoint(t *testing.T) {
	oracle := &testutil.MockOracle{ScoreItemsFn: testutil.FixedScore(1, 2)}
	handler := newTestServer(t, oracle)

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/conv-1/messages",
		PostMessageRequest{Text: "not really, a couple of times maybe"})
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/conv-1/integrity", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET integrity")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	result, ok := response["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response missing result: %v", response)
	}
	if result["leak_count"].(float64) != 0 {
		t.Errorf("leak_count = %v, want 0", result["leak_count"])
	}
}

func TestGetEventsEndpoint(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	req = testutil.CreateHTTPRequest(t, http.MethodGet, "/sessions/conv-1/events", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET events")
	response := testutil.AssertJSONResponse(t, rr, "ok")
	events, ok := response["result"].([]interface{})
	if !ok {
		t.Fatalf("response missing result list: %v", response)
	}
	if len(events) == 0 {
		t.Error("no audit events after session creation")
	}
}

func TestCompleteReportConflictWhileActive(t *testing.T) {
	handler := newTestServer(t, &testutil.MockOracle{})

	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions",
		StartSessionRequest{ConversationID: "conv-1"})
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	// Acknowledging a report before one exists is an invalid transition.
	req = testutil.CreateHTTPRequest(t, http.MethodPost, "/sessions/conv-1/report/complete", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "complete report while active")
	testutil.AssertJSONResponse(t, rr, "error")
}
