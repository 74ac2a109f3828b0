// Package api provides HTTP handlers for ScreenPipe endpoints.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ScreenPipe/internal/models"
)

// StartSessionRequest is the body for POST /sessions.
type StartSessionRequest struct {
	ConversationID string `json:"conversation_id"`
}

// PostMessageRequest is the body for POST /sessions/{conversationID}/messages.
type PostMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startSessionHandler handles POST /sessions
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startSessionHandler: processing start request", "path", r.URL.Path)

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startSessionHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.ConversationID == "" {
		slog.Warn("Server.startSessionHandler: missing conversation_id")
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: conversation_id"))
		return
	}

	result, err := s.eng.StartInterview(r.Context(), req.ConversationID)
	if err != nil {
		slog.Error("Server.startSessionHandler: start failed", "error", err, "conversationID", req.ConversationID)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to start interview: "+err.Error()))
		return
	}

	slog.Info("Server.startSessionHandler: interview started", "conversationID", req.ConversationID, "sessionID", result.SessionID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Interview started", result))
}

// postMessageHandler handles POST /sessions/{conversationID}/messages
func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	conversationID := r.PathValue("conversationID")
	slog.Debug("Server.postMessageHandler: processing message", "conversationID", conversationID)

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.postMessageHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Text == "" {
		slog.Warn("Server.postMessageHandler: empty text", "conversationID", conversationID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: text"))
		return
	}

	result, err := s.eng.HandleMessage(r.Context(), conversationID, req.Text)
	if err != nil {
		slog.Error("Server.postMessageHandler: turn failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to process message: "+err.Error()))
		return
	}

	slog.Debug("Server.postMessageHandler: turn completed", "conversationID", conversationID, "phase", result.Phase)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// getSessionHandler handles GET /sessions/{conversationID}
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	slog.Debug("Server.getSessionHandler: fetching session", "conversationID", conversationID)

	sess, err := s.eng.GetSession(conversationID)
	if err != nil {
		slog.Warn("Server.getSessionHandler: fetch failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to get session: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sess))
}

// listSessionsHandler handles GET /sessions
func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.eng.ListActiveSessions()
	if err != nil {
		slog.Error("Server.listSessionsHandler: list failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list sessions"))
		return
	}
	slog.Debug("Server.listSessionsHandler: sessions listed", "count", len(sessions))
	writeJSONResponse(w, http.StatusOK, models.Success(sessions))
}

// getResponsesHandler handles GET /sessions/{conversationID}/responses
func (s *Server) getResponsesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	slog.Debug("Server.getResponsesHandler: fetching responses", "conversationID", conversationID)

	sess, err := s.eng.GetSession(conversationID)
	if err != nil {
		writeJSONResponse(w, statusForError(err), models.Error("Failed to get session: "+err.Error()))
		return
	}
	responses, err := s.eng.GetItemResponses(sess.ID)
	if err != nil {
		slog.Error("Server.getResponsesHandler: fetch failed", "error", err, "sessionID", sess.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get item responses"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}

// getIntegrityHandler handles GET /sessions/{conversationID}/integrity
func (s *Server) getIntegrityHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	slog.Debug("Server.getIntegrityHandler: computing integrity", "conversationID", conversationID)

	report, err := s.eng.EvidenceIntegrity(conversationID)
	if err != nil {
		slog.Warn("Server.getIntegrityHandler: failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to compute integrity: "+err.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(report))
}

// getEventsHandler handles GET /sessions/{conversationID}/events
func (s *Server) getEventsHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	slog.Debug("Server.getEventsHandler: fetching audit events", "conversationID", conversationID)

	sess, err := s.eng.GetSession(conversationID)
	if err != nil {
		writeJSONResponse(w, statusForError(err), models.Error("Failed to get session: "+err.Error()))
		return
	}
	events, err := s.eng.GetAuditEvents(sess.ID)
	if err != nil {
		slog.Error("Server.getEventsHandler: fetch failed", "error", err, "sessionID", sess.ID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to get audit events"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(events))
}

// completeReportHandler handles POST /sessions/{conversationID}/report/complete
func (s *Server) completeReportHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationID")
	slog.Debug("Server.completeReportHandler: completing report", "conversationID", conversationID)

	if err := s.eng.CompleteReport(r.Context(), conversationID); err != nil {
		slog.Warn("Server.completeReportHandler: failed", "error", err, "conversationID", conversationID)
		writeJSONResponse(w, statusForError(err), models.Error("Failed to complete report: "+err.Error()))
		return
	}
	slog.Info("Server.completeReportHandler: session done", "conversationID", conversationID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Report completed", nil))
}
