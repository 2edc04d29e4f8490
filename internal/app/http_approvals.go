package app

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

func (s *HTTPServer) handleAutoRoute(w http.ResponseWriter, r *http.Request, session Session) {
	result, err := s.service.AutoRoute(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleRequestApproval(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Assignees []string `json:"assignees"`
		DueDate   *string  `json:"dueDate"`
		Priority  string   `json:"priority"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	input := RequestApprovalInput{Assignees: body.Assignees, Priority: body.Priority}
	if body.DueDate != nil {
		input.DueDate = parseDate(*body.DueDate)
	}

	created, err := s.service.RequestApprovals(r.Context(), session, mux.Vars(r)["id"], input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"approvals": approvalListJSON(created)})
}

func (s *HTTPServer) handleDocumentApprovals(w http.ResponseWriter, r *http.Request, session Session) {
	approvals, err := s.service.ListDocumentApprovals(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvalListJSON(approvals)})
}

func (s *HTTPServer) handleApprovalStatus(w http.ResponseWriter, r *http.Request, session Session) {
	status, err := s.service.GetApprovalStatus(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleListApprovals(w http.ResponseWriter, r *http.Request, session Session) {
	approvals, err := s.service.ListApprovals(r.Context(), session, r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvalListJSON(approvals)})
}

func (s *HTTPServer) handleMyPendingApprovals(w http.ResponseWriter, r *http.Request, session Session) {
	approvals, err := s.service.MyPendingApprovals(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvalListJSON(approvals)})
}

func (s *HTTPServer) handleOverdueApprovals(w http.ResponseWriter, r *http.Request, session Session) {
	approvals, err := s.service.OverdueApprovals(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": approvalListJSON(approvals), "asOf": time.Now()})
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Comment string `json:"comment"`
	}
	_ = decodeBody(r, &body)

	approval, err := s.service.Approve(r.Context(), session, mux.Vars(r)["id"], body.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalJSON(approval))
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Comment string `json:"comment"`
	}
	_ = decodeBody(r, &body)

	approval, err := s.service.Reject(r.Context(), session, mux.Vars(r)["id"], body.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalJSON(approval))
}

func (s *HTTPServer) handleEscalate(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		EscalateTo string `json:"escalateTo"`
		Reason     string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	approval, err := s.service.Escalate(r.Context(), session, mux.Vars(r)["id"], body.EscalateTo, body.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approvalJSON(approval))
}

func (s *HTTPServer) handleRemind(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.Remind(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleBulkApprove(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Department string `json:"department"`
		Comment    string `json:"comment"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	count, err := s.service.BulkApprove(r.Context(), session, body.Department, body.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approved": count})
}
