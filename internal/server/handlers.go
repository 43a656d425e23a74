package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/schemapilot/schemapilot/internal/vecstore"
)

// handleGenerate answers a schema question. The raw request body is the
// question; the answer comes back as plain text.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondText(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	question := string(body)
	if strings.TrimSpace(question) == "" {
		s.respondText(w, http.StatusBadRequest, "question is required")
		return
	}
	s.logger.Debug("generate request", zap.Int("question_length", len(question)))

	answer, err := s.pipeline.Answer(r.Context(), question)
	if err != nil {
		s.logger.Error("generate failed", zap.Error(err))
		s.respondText(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondText(w, http.StatusOK, answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	col := s.handle.Collection()
	resp := map[string]interface{}{
		"collection": col.Name,
		"rows":       s.handle.Size(),
		"dimension":  col.Dimension,
	}
	if s.config != nil {
		if s.config.Storage.Driver != "memory" {
			if n, err := vecstore.DiskUsageBytes(vecstore.StoreFiles(s.config.Storage.Path)...); err == nil {
				resp["disk_usage_bytes"] = n
			}
		}
		resp["config"] = map[string]interface{}{
			"storage_driver":     s.config.Storage.Driver,
			"embedding_provider": s.config.Embedding.Provider,
			"top_k":              s.config.Retrieval.TopK,
			"llm_max_tokens":     s.config.LLM.MaxTokens,
			"llm_temperature":    s.config.LLM.TemperatureOrDefault(),
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.handle.Reload(r.Context()); err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rows := s.handle.Size()
	s.logger.Info("index reloaded", zap.Int("rows", rows), zap.Duration("elapsed", time.Since(start)))
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "reloaded", "rows": rows})
}

func (s *Server) respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
