package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/huytu0702/university-admission-portal-sub001/dlq"
	"github.com/huytu0702/university-admission-portal-sub001/engine"
	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/job"
)

// ──────────────────────────────────────────────────────────────────────
// Feature flags
// ──────────────────────────────────────────────────────────────────────

func (s *Server) handleListFlags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Flags().List())
}

func (s *Server) handleToggleFlag(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, `request body must be {"enabled": true|false}`)
		return
	}

	f, err := s.eng.Flags().Toggle(r.Context(), r.PathValue("name"), *body.Enabled)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ──────────────────────────────────────────────────────────────────────
// Jobs and worker scaling
// ──────────────────────────────────────────────────────────────────────

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	state := job.State(query.Get("state"))
	if state == "" {
		state = job.StateWaiting
	}
	switch state {
	case job.StateWaiting, job.StateActive, job.StateCompleted, job.StateFailed, job.StateDeadLettered:
	default:
		writeError(w, http.StatusBadRequest, "unknown job state")
		return
	}

	jobs, err := s.eng.Store().ListJobsByState(r.Context(), state, job.ListOpts{
		Limit:  queryInt(query.Get("limit"), 50),
		Offset: queryInt(query.Get("offset"), 0),
		Queue:  query.Get("queue"),
	})
	if err != nil {
		mapError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	j, err := s.eng.Store().GetJob(r.Context(), jobID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// handleScalingMetrics reports per-queue job counts, one element per
// configured queue. This is the census behind manual scaling decisions.
func (s *Server) handleScalingMetrics(w http.ResponseWriter, r *http.Request) {
	queues, err := s.eng.QueueMetrics(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	if queues == nil {
		queues = []engine.QueueMetrics{}
	}
	writeJSON(w, http.StatusOK, queues)
}

// WorkerInfoResponse describes this process's worker pool.
type WorkerInfoResponse struct {
	WorkerID    string `json:"workerId"`
	Concurrency int    `json:"concurrency"`
	ActiveJobs  int    `json:"activeJobs"`
}

func (s *Server) handleWorkerInfo(w http.ResponseWriter, r *http.Request) {
	pool := s.eng.Pool()
	writeJSON(w, http.StatusOK, WorkerInfoResponse{
		WorkerID:    pool.WorkerID().String(),
		Concurrency: pool.Concurrency(),
		ActiveJobs:  pool.ActiveCount(),
	})
}

// ──────────────────────────────────────────────────────────────────────
// Dead letter queue
// ──────────────────────────────────────────────────────────────────────

func (s *Server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	entries, err := s.eng.DLQService().DLQStore().ListDLQ(r.Context(), dlq.ListOpts{
		Limit:  queryInt(query.Get("limit"), 50),
		Offset: queryInt(query.Get("offset"), 0),
		Queue:  query.Get("queue"),
	})
	if err != nil {
		mapError(w, err)
		return
	}
	if entries == nil {
		entries = []*dlq.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleDLQMetrics reports dead-lettered entry counts keyed by queue
// name.
func (s *Server) handleDLQMetrics(w http.ResponseWriter, r *http.Request) {
	perQueue, _, err := s.eng.DLQService().Counts(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}
	if perQueue == nil {
		perQueue = map[string]int64{}
	}
	writeJSON(w, http.StatusOK, perQueue)
}

func (s *Server) handleReplayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, err := id.ParseDLQID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dlq entry id")
		return
	}

	j, err := s.eng.DLQService().Replay(r.Context(), entryID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// ──────────────────────────────────────────────────────────────────────
// Circuit breakers
// ──────────────────────────────────────────────────────────────────────

func (s *Server) handleListBreakers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Breakers().Stats())
}

func (s *Server) handleGetBreaker(w http.ResponseWriter, r *http.Request) {
	b, ok := s.eng.Breakers().Lookup(r.PathValue("service"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown circuit breaker")
		return
	}
	writeJSON(w, http.StatusOK, b.Stats())
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
