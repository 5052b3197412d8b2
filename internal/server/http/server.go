package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rzbill/relay/internal/dispatcher"
	"github.com/rzbill/relay/internal/runtime"
	"github.com/rzbill/relay/internal/store"
	"github.com/rzbill/relay/internal/telemetry"
	"github.com/rzbill/relay/pkg/log"
)

type Server struct {
	rt     *runtime.Runtime
	disp   *dispatcher.Dispatcher
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

func New(rt *runtime.Runtime, disp *dispatcher.Dispatcher, logger log.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, disp: disp, logger: logger.With(log.Component("http"))}
	s.srv = &http.Server{Handler: cors(s.withRequestID(mux))}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/enqueue", s.handleEnqueue)
	mux.HandleFunc("/v1/records/get", s.handleGet)
	mux.HandleFunc("/v1/sync", s.handleSync)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/deadletters", s.handleDeadLetters)
	mux.HandleFunc("/v1/deadletters/requeue", s.handleRequeue)
	mux.HandleFunc("/v1/deadletters/purge", s.handlePurge)
	mux.Handle("/metrics", telemetry.Handler())
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

// Addr returns the bound listen address, valid after ListenAndServe.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		s.logger.Debug("request",
			log.Str("request_id", reqID),
			log.Str("method", r.Method),
			log.Str("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_serving"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type enqueueReq struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

type enqueueResp struct {
	ID string `json:"id"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rec, err := s.rt.Enqueue(r.Context(), req.ID, req.Payload)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(enqueueResp{ID: rec.ID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	rec, err := s.rt.Store().Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(rec)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.disp.SyncNow()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	_ = json.NewEncoder(w).Encode(s.disp.Stats())
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.rt.Store().ListDeadLetters(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"records": recs})
}

type requeueReq struct {
	ID string `json:"id"`
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req requeueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.rt.Store().RequeueDeadLetter(r.Context(), req.ID, time.Now().UnixMilli()); err != nil {
		writeStoreError(w, err)
		return
	}
	s.disp.NotifyEnqueue()
	w.WriteHeader(http.StatusNoContent)
}

type purgeResp struct {
	Purged int `json:"purged"`
}

func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	n, err := s.rt.Store().PurgeDeadLetters(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(purgeResp{Purged: n})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runtime.ErrBackpressure):
		w.WriteHeader(http.StatusTooManyRequests)
	case errors.Is(err, store.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, store.ErrUnavailable):
		w.WriteHeader(http.StatusServiceUnavailable)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
