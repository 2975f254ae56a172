// Package worker provides the HTTP surface and polling loop shared by all
// four stage binaries (spec §6 CLI/trigger surface): GET /health, GET
// /status, POST /wake, plus a goroutine-per-message pool draining a
// queue.Receive loop. Grounded on the teacher's
// apps/ReleaseParty/backend/internal/api.Server (chi.Router,
// writeJSON, "<name> " log prefix with LstdFlags|LUTC).
package worker

import (
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"contentpipe/internal/pipeline"
	"contentpipe/internal/queue"
)

// Status is the JSON body of GET /status.
type Status struct {
	Name       string `json:"name"`
	QueueDepth int    `json:"queue_depth"`
	Processed  int64  `json:"processed"`
	Failed     int64  `json:"failed"`
	StartedAt  string `json:"started_at"`
}

// wakeRequest is the JSON body POST /wake accepts: it synthesizes a queue
// message with the given operation/payload and enqueues it directly, for
// local testing without a real external trigger (spec §6).
type wakeRequest struct {
	Operation string              `json:"operation"`
	Payload   pipeline.RawPayload `json:"payload"`
}

// Server exposes the shared worker HTTP surface over one stage's queue.
type Server struct {
	Name      string
	Queue     *queue.Queue
	Log       *log.Logger
	startedAt time.Time
	processed int64
	failed    int64
}

// NewServer returns a Server for the named stage, building a logger with
// the teacher's "<name> " prefix convention if none is supplied.
func NewServer(name string, q *queue.Queue, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), name+" ", log.LstdFlags|log.LUTC)
	}
	return &Server{Name: name, Queue: q, Log: logger, startedAt: time.Now().UTC()}
}

func (s *Server) RecordProcessed() { atomic.AddInt64(&s.processed, 1) }
func (s *Server) RecordFailed()    { atomic.AddInt64(&s.failed, 1) }

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		depth, err := s.Queue.Depth()
		if err != nil {
			s.Log.Printf("status: queue depth: %v", err)
		}
		writeJSON(w, http.StatusOK, Status{
			Name:       s.Name,
			QueueDepth: depth,
			Processed:  atomic.LoadInt64(&s.processed),
			Failed:     atomic.LoadInt64(&s.failed),
			StartedAt:  s.startedAt.Format(time.RFC3339),
		})
	})

	r.Post("/wake", func(w http.ResponseWriter, r *http.Request) {
		var req wakeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		if req.Operation == "" {
			http.Error(w, "operation required", http.StatusBadRequest)
			return
		}
		id, err := s.Queue.Enqueue(req.Operation, s.Name+"-wake", "", req.Payload)
		if err != nil {
			s.Log.Printf("wake: enqueue failed: %v", err)
			http.Error(w, "enqueue failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
