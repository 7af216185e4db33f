package http

import (
	"net/http"
	"strconv"

	"github.com/codelens-dev/agentgate/internal/service"
)

type createSessionRequest struct {
	ProjectRoot   string `json:"projectRoot"`
	Source        string `json:"source"`
	Profile       string `json:"profile"`
	ReuseExisting bool   `json:"reuseExisting"`
}

func (h *Handlers) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createSessionRequest](w, r)
	if !ok {
		return
	}

	res, err := h.Registry.CreateOrReuse(r.Context(), req.ProjectRoot, req.Source, req.Profile, req.ReuseExisting)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Reused {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

type promptRequest struct {
	Content   string          `json:"content"`
	MessageID string          `json:"messageId"`
	Agent     string          `json:"agent"`
	System    string          `json:"system"`
	Tools     map[string]bool `json:"tools"`
}

// handlePromptAsync accepts a user turn and returns immediately. Progress is
// observed on the session's event stream, not on this call.
func (h *Handlers) handlePromptAsync(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	req, ok := readJSON[promptRequest](w, r)
	if !ok {
		return
	}

	messageID, err := h.Registry.Prompt(r.Context(), sessionID, service.PromptInput{
		MessageID: req.MessageID,
		Content:   req.Content,
		Agent:     req.Agent,
		System:    req.System,
		Tools:     req.Tools,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"sessionId": sessionID,
		"messageId": messageID,
		"accepted":  true,
	})
}

type permissionReplyRequest struct {
	Response string `json:"response"`
}

// Accepted response values. IDE clients historically sent the approve_*
// vocabulary; the upstream runtime speaks once/always/reject. Both are
// accepted here and translated exactly once.
var permissionAliases = map[string]string{
	"approve_once":   "once",
	"approve_always": "always",
}

func (h *Handlers) handlePermissionReply(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	permissionID := urlParam(r, "permissionId")

	req, ok := readJSON[permissionReplyRequest](w, r)
	if !ok {
		return
	}

	response := req.Response
	if canonical, ok := permissionAliases[response]; ok {
		response = canonical
	}

	if err := h.Registry.ReplyPermission(r.Context(), sessionID, permissionID, response); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId":    sessionID,
		"permissionId": permissionID,
		"accepted":     true,
	})
}

func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	view, err := h.Registry.History(r.Context(), sessionID, limit, h.History)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Registry.Status(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handlers) handleDiff(w http.ResponseWriter, r *http.Request) {
	report, err := h.Registry.Diff(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type commandRequest struct {
	Command string `json:"command"`
}

func (h *Handlers) handleCommand(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	req, ok := readJSON[commandRequest](w, r)
	if !ok {
		return
	}

	res, err := h.Registry.ExecuteCommand(r.Context(), sessionID, req.Command)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handlers) handlePermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.Registry.Permissions(urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pendingPermissions": perms})
}

func (h *Handlers) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	h.WS.Handle(w, r, urlParam(r, "id"))
}
