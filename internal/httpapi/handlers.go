package httpapi

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fraware/self-healing-ci/internal/journal"
	"github.com/fraware/self-healing-ci/pkg/selfheal"
)

// validCaseID matches the BLAKE3-hex CaseIDs minted by selfheal.NewCaseID,
// restricted the same way the teacher restricts its run IDs: alphanumeric,
// dashes, and underscores only, so a caller can never smuggle a path
// segment into a journal lookup.
var validCaseID = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,127}$`)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// caseView is the read-only projection returned by GET /cases/{caseID}:
// the journal rebuilds the current Case from its entries on every request,
// since the journal (not any in-memory cache) is the engine's source of
// truth (§4.5).
type caseView struct {
	CaseID           selfheal.CaseID        `json:"caseId"`
	Repository       string                 `json:"repository"`
	RunID            string                 `json:"runId"`
	HeadSHA          string                 `json:"headSha"`
	State            selfheal.State         `json:"state"`
	Attempt          map[selfheal.Phase]int `json:"attempt"`
	RootCause        selfheal.RootCause     `json:"rootCause,omitempty"`
	FailureReason    selfheal.FailureReason `json:"failureReason,omitempty"`
	StartedAt        time.Time              `json:"startedAt"`
	LastTransitionAt time.Time              `json:"lastTransitionAt"`
	EntryCount       int                    `json:"entryCount"`
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "caseID")
	if !validCaseID.MatchString(raw) {
		writeError(w, http.StatusBadRequest, "caseID must be alphanumeric with dashes/underscores, 1-128 chars")
		return
	}
	caseID := selfheal.CaseID(raw)

	entries, err := s.journal.ReadAll(r.Context(), caseID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "case not found")
		return
	}

	// Identity fields (repository/runId/headSha) live only on the
	// FailureEvent that created the case, not in the journal itself; this
	// read-only view only has what Project can derive from the entry log.
	c := journal.Project(caseID, selfheal.Case{}, entries)

	writeJSON(w, http.StatusOK, caseView{
		CaseID:           c.ID,
		Repository:       c.Repository,
		RunID:            c.RunID,
		HeadSHA:          c.HeadSHA,
		State:            c.State,
		Attempt:          c.Attempt,
		RootCause:        c.RootCause,
		FailureReason:    c.FailureReason,
		StartedAt:        c.StartedAt,
		LastTransitionAt: c.LastTransitionAt,
		EntryCount:       len(entries),
	})
}

// handleCaseEvents streams the live event feed filtered to one case.
func (s *Server) handleCaseEvents(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "caseID")
	if !validCaseID.MatchString(raw) {
		writeError(w, http.StatusBadRequest, "caseID must be alphanumeric with dashes/underscores, 1-128 chars")
		return
	}
	caseID := selfheal.CaseID(raw)
	writeSSE(w, r, s.broadcaster, func(ev selfheal.Event) bool {
		return ev.CaseID == caseID
	})
}

// handleAllEvents streams the unfiltered process-wide event feed.
func (s *Server) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	writeSSE(w, r, s.broadcaster, func(selfheal.Event) bool { return true })
}

// writeSSE streams a filtered view of a Broadcaster's feed, adapted from
// the teacher's server.WriteSSE: the same history-replay-then-live loop
// and slow-client-drop-vs-orderly-done distinction, generalized to accept
// a predicate so one Broadcaster can serve both the all-events and the
// per-case endpoints.
func writeSSE(w http.ResponseWriter, r *http.Request, b interface {
	Subscribe() (<-chan selfheal.Event, <-chan struct{}, func())
}, keep func(selfheal.Event) bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream, doneCh, unsub := b.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				select {
				case <-doneCh:
					_, _ = w.Write([]byte("event: done\ndata: {}\n\n"))
					flusher.Flush()
				default:
				}
				return
			}
			if !keep(ev) {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if ev.ID != "" {
				_, _ = w.Write([]byte("id: " + ev.ID + "\n"))
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
