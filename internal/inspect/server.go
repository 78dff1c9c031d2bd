// Package inspect exposes a read-only HTTP API over one or more open
// queue indexes, for operators and the quidx-inspect CLI to poke at a
// broker's on-disk state without shelling into the data directory.
package inspect

import (
	"encoding/json"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bdubertret/quidx/internal/metrics"
	"github.com/bdubertret/quidx/internal/qindex"
)

// Manager is the subset of broker state the inspect server needs: lookup
// of an open QueueIndex by the directory name qindex.DirName produces.
type Manager interface {
	Index(dirName string) (*qindex.QueueIndex, bool)
	DirNames() []string
}

// Server is the HTTP inspection server.
type Server struct {
	mgr     Manager
	metrics *metrics.Registry
	logger  *slog.Logger
	router  *chi.Mux
	http    *http.Server
	wg      sync.WaitGroup
}

// Config holds inspect server configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":7780",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewServer builds an inspect server over mgr.
func NewServer(mgr Manager, reg *metrics.Registry, cfg Config) *Server {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	s := &Server{mgr: mgr, metrics: reg, logger: logger, router: r}

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, req)
			s.logger.Info("inspect request", "method", req.Method, "path", req.URL.Path, "duration", time.Since(start).String())
		})
	})

	r.Get("/health", s.handleHealth)
	r.Get("/queues", s.handleListQueues)
	r.Route("/queues/{dirName}", func(r chi.Router) {
		r.Get("/", s.handleQueueSummary)
		r.Get("/messages/{seq}", s.handleReadMessage)
	})
	if reg != nil {
		r.Handle("/metrics", reg.Handler())
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Start begins listening (non-blocking).
func (s *Server) Start() error {
	s.logger.Info("starting inspect server", "addr", s.http.Addr)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("inspect server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	err := s.http.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"queues": s.mgr.DirNames()})
}

type queueSummary struct {
	DirName   string `json:"dir_name"`
	LowSeq    uint64 `json:"low_seq"`
	NextSeq   uint64 `json:"next_seq"`
	NeedsSync string `json:"needs_sync"`
}

func (s *Server) handleQueueSummary(w http.ResponseWriter, r *http.Request) {
	dirName := chi.URLParam(r, "dirName")
	idx, ok := s.mgr.Index(dirName)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such queue"})
		return
	}
	low, next := idx.Bounds()
	writeJSON(w, http.StatusOK, queueSummary{
		DirName:   dirName,
		LowSeq:    low,
		NextSeq:   next,
		NeedsSync: idx.NeedsSync().String(),
	})
}

type messageView struct {
	SeqId        uint64 `json:"seq_id"`
	MsgID        string `json:"msg_id"`
	IsPersistent bool   `json:"is_persistent"`
	IsDelivered  bool   `json:"is_delivered"`
	Size         uint32 `json:"size"`
}

func (s *Server) handleReadMessage(w http.ResponseWriter, r *http.Request) {
	dirName := chi.URLParam(r, "dirName")
	idx, ok := s.mgr.Index(dirName)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such queue"})
		return
	}
	seqStr := chi.URLParam(r, "seq")
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid seq"})
		return
	}
	msg, err := idx.Read(qindex.SeqId(seq))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, messageView{
		SeqId:        uint64(msg.SeqId),
		MsgID:        hex.EncodeToString(msg.MsgID[:]),
		IsPersistent: msg.IsPersistent,
		IsDelivered:  msg.IsDelivered,
		Size:         msg.Size,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
