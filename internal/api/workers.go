package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

type WorkerRequest struct {
	URL string `json:"url"`
}

func decodeWorker(r *http.Request) (string, bool) {
	var req WorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", false
	}
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", false
	}
	return strings.TrimRight(req.URL, "/"), true
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	addr, ok := decodeWorker(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	s.workers.Register(addr)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnregisterWorker(w http.ResponseWriter, r *http.Request) {
	addr, ok := decodeWorker(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	s.workers.Unregister(addr)
	w.WriteHeader(http.StatusNoContent)
}
