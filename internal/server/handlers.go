package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/logging"
	"github.com/54b3r/studycrew-go/internal/service"
)

// multipartOverhead is the allowance for multipart framing on top of the file size.
const multipartOverhead = 1 << 20

// handleAsk handles POST /api/ask. It runs the full retrieve → experts →
// synthesis pipeline and returns the answer as one JSON document.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "server.ask", err, "invalid request body"))
		return
	}

	ans, err := s.svc.Query(r.Context(), service.Query{
		Document: req.Document,
		Question: req.Question,
		Strategy: req.Strategy,
		TopK:     req.TopK,
	})
	s.metrics.observeAsk(time.Since(start), err)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := askResponse{Answer: ans, Passages: make([]passage, len(ans.Passages))}
	for i, p := range ans.Passages {
		resp.Passages[i] = passage{
			Content:    p.Content,
			Position:   p.Position,
			Distance:   p.Distance,
			Tier:       p.Tier,
			Similarity: p.Similarity,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUpload handles POST /api/documents with a multipart "file" field.
// The file is saved and ingested in the background; the response is 202.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:   string(apperr.KindValidation),
				Message: "file exceeds the upload size limit",
			})
			return
		}
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "server.upload", err, `multipart field "file" is required`))
		return
	}
	defer file.Close()

	doc, err := s.svc.Upload(r.Context(), header.Filename, file, header.Size)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, uploadResponse{
		Name:     doc.Name,
		Filename: doc.Filename,
		Size:     doc.Size,
		Status:   doc.Status,
	})
}

// handleListDocuments handles GET /api/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.svc.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []service.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDeleteDocument handles DELETE /api/documents/{name}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.svc.Delete(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Status: "deleted", Name: name})
}

// handleDeleteAll handles DELETE /api/documents.
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.DeleteAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Status: "deleted", Deleted: n})
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

// statusFor maps a failure kind to an HTTP status code.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case apperr.KindDocumentProcessing, apperr.KindExtractionFailed:
		return http.StatusUnprocessableEntity
	case apperr.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindBackendTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindAgent:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError renders err as the JSON error envelope. Unclassified errors are
// logged and reported without their internal message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	log := logging.FromContext(r.Context())

	body := errorResponse{Error: string(kind), Message: err.Error(), Role: apperr.RoleOf(err)}
	if kind == "" {
		body.Error = "internal"
		body.Message = "internal server error"
	}

	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("kind", body.Error), slog.String("error", err.Error()))
	} else {
		log.Info("request rejected", slog.String("kind", body.Error), slog.String("error", err.Error()))
	}
	writeJSON(w, status, body)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Default().Error("server: encode response", slog.String("error", err.Error()))
	}
}
