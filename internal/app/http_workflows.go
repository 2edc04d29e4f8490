package app

import (
	"net/http"

	"github.com/gorilla/mux"

	"edms/api/internal/store"
)

func workflowJSON(wf store.Workflow) map[string]any {
	return map[string]any{
		"id":           wf.ID,
		"name":         wf.Name,
		"description":  wf.Description,
		"trigger":      wf.Trigger,
		"triggerValue": wf.TriggerValue,
		"steps":        wf.Steps,
		"enabled":      wf.Enabled,
		"createdAt":    wf.CreatedAt,
		"updatedAt":    wf.UpdatedAt,
	}
}

func (s *HTTPServer) handleListWorkflows(w http.ResponseWriter, r *http.Request, session Session) {
	workflows, err := s.service.ListWorkflows(r.Context(), session)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(workflows))
	for _, wf := range workflows {
		items = append(items, workflowJSON(wf))
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": items})
}

func (s *HTTPServer) handleCreateWorkflow(w http.ResponseWriter, r *http.Request, session Session) {
	var input WorkflowInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	wf, err := s.service.CreateWorkflow(r.Context(), session, input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, workflowJSON(wf))
}

func (s *HTTPServer) handleResolveWorkflow(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	wf, err := s.service.ResolveWorkflowFor(r.Context(), session, query.Get("type"), query.Get("department"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowJSON(wf))
}

func (s *HTTPServer) handleGetWorkflow(w http.ResponseWriter, r *http.Request, session Session) {
	wf, err := s.service.GetWorkflow(r.Context(), session, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowJSON(wf))
}

func (s *HTTPServer) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request, session Session) {
	var input WorkflowInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	wf, err := s.service.UpdateWorkflow(r.Context(), session, mux.Vars(r)["id"], input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowJSON(wf))
}

func (s *HTTPServer) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request, session Session) {
	if err := s.service.DeleteWorkflow(r.Context(), session, mux.Vars(r)["id"]); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
