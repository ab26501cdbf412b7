// Package server is the thin HTTP collaborator over the sequencer facade.
// The sequencing core fixes no wire format; this layer maps JSON requests to
// facade calls and facade errors to status codes.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manifest-network/seqd/internal/blocklog"
	"github.com/manifest-network/seqd/internal/bundle"
	"github.com/manifest-network/seqd/internal/models"
	"github.com/manifest-network/seqd/internal/queue"
	"github.com/manifest-network/seqd/internal/sequencer"
)

// Server routes HTTP requests to a sequencer engine.
type Server struct {
	engine *sequencer.Engine
	logger *slog.Logger
}

// New creates a server over the given engine.
func New(engine *sequencer.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{engine: engine, logger: logger}
}

// Handler returns the HTTP routing table, including /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/transactions", s.handlePublishTransaction)
	mux.HandleFunc("POST /v1/bundles", s.handlePublishBundle)
	mux.HandleFunc("GET /v1/blocks/tip", s.handleTip)
	mux.HandleFunc("GET /v1/blocks/next", s.handleNextBlock)
	mux.HandleFunc("GET /v1/blocks/{height}", s.handleGetBlock)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// TransactionRequest is the publish payload for a single transaction.
type TransactionRequest struct {
	Domain string `json:"domain"`
	Data   []byte `json:"data"`
}

// TransactionResponse echoes the content-derived identity of an admitted
// transaction.
type TransactionResponse struct {
	ID models.TxID `json:"id"`
}

// BundleRequest is the publish payload for an atomic bundle.
type BundleRequest struct {
	Txs []TransactionRequest `json:"txs"`
}

// BundleResponse echoes the member identities of an admitted bundle.
type BundleResponse struct {
	IDs []models.TxID `json:"ids"`
}

func (s *Server) handlePublishTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tx := models.NewTransaction(req.Domain, req.Data)
	if err := s.engine.Publish(r.Context(), tx); err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, TransactionResponse{ID: tx.ID})
}

func (s *Server) handlePublishBundle(w http.ResponseWriter, r *http.Request) {
	var req BundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	b := models.Bundle{Txs: make([]models.Transaction, 0, len(req.Txs))}
	for _, tr := range req.Txs {
		b.Txs = append(b.Txs, models.NewTransaction(tr.Domain, tr.Data))
	}
	if err := s.engine.PublishBundle(r.Context(), b); err != nil {
		s.writeFacadeError(w, err)
		return
	}
	ids := make([]models.TxID, 0, len(b.Txs))
	for _, tx := range b.Txs {
		ids = append(ids, tx.ID)
	}
	writeJSON(w, http.StatusAccepted, BundleResponse{IDs: ids})
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	height, err := strconv.ParseUint(r.PathValue("height"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid block height")
		return
	}
	block, err := s.engine.Get(r.Context(), height)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleTip(w http.ResponseWriter, r *http.Request) {
	block, err := s.engine.Tip(r.Context())
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

// handleNextBlock long-polls for the block at the requested height. The wait
// is bounded only by the client's connection; a closed engine answers 204.
func (s *Server) handleNextBlock(w http.ResponseWriter, r *http.Request) {
	var from uint64
	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from height")
			return
		}
		from = parsed
	}
	block, err := s.engine.WaitForNextBlock(r.Context(), from)
	if err != nil {
		s.writeFacadeError(w, err)
		return
	}
	if block == nil {
		// Graceful shutdown released the wait.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) writeFacadeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, queue.ErrDuplicateMember):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bundle.ErrEmptyBundle), errors.Is(err, bundle.ErrInternalDuplicate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, blocklog.ErrNotFound), errors.Is(err, blocklog.ErrEmpty):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sequencer.ErrUnavailable), errors.Is(err, sequencer.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

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
