package docstore

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fruitsalade/lifionfs/internal/logging"
	"github.com/fruitsalade/lifionfs/internal/metrics"
	"github.com/fruitsalade/lifionfs/pkg/models"
	"github.com/fruitsalade/lifionfs/pkg/protocol"
)

// Server serves a Store over the remote document API.
type Server struct {
	store *Store
}

// NewServer creates a new document API server.
func NewServer(store *Store) *Server {
	return &Server{store: store}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+protocol.PathHealth, s.handleHealth)
	mux.HandleFunc("GET "+protocol.PathDocuments, s.handleDocuments)
	mux.HandleFunc("GET "+protocol.PathDocumentSize+"{id}", s.handleSize)
	mux.HandleFunc("GET "+protocol.PathDocumentScript+"{id}", s.handleScript)

	return logging.Middleware(metrics.RecordHTTPRequest)(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context())
	if err != nil {
		logging.WithContext(r.Context()).Error("list documents", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "list documents failed")
		return
	}
	refs := make([]models.DocumentRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, models.DocumentRef{ID: d.ID, Name: d.Name})
	}
	resp, err := protocol.EncodeRefs(refs)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSize(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.DocumentSizeResponse{Size: doc.Size})
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.DocumentScriptResponse{Script: doc.Script})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (models.Document, bool) {
	id := r.PathValue("id")
	doc, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		logging.WithContext(r.Context()).Error("read document", zap.String("id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "read document failed")
		return models.Document{}, false
	}
	if !ok {
		s.sendError(w, http.StatusNotFound, "document not found: "+id)
		return models.Document{}, false
	}
	return doc, true
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, protocol.ErrorResponse{Error: msg, Code: status})
}
