// Package api – HTTP API менеджера: создание задач, статус, список задач,
// приём отчётов воркеров и websocket-поток статуса.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/orchestrator"
)

const component = "API"

// WorkerRegistry принимает регистрацию HTTP-воркеров.
type WorkerRegistry interface {
	Register(url string)
	Unregister(url string)
}

// Server обслуживает HTTP-запросы поверх оркестратора.
type Server struct {
	svc          *orchestrator.Service
	workers      WorkerRegistry
	pushInterval time.Duration
	timeout      time.Duration
}

func NewServer(svc *orchestrator.Service, pushInterval time.Duration) *Server {
	if pushInterval <= 0 {
		pushInterval = time.Second
	}
	return &Server{svc: svc, pushInterval: pushInterval, timeout: 30 * time.Second}
}

// SetWorkerRegistry включает маршруты регистрации воркеров.
func (s *Server) SetWorkerRegistry(r WorkerRegistry) { s.workers = r }

// Handler возвращает роутер chi со всеми маршрутами.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// websocket живёт дольше таймаута обычных запросов
	r.Get("/api/hash/status/ws", s.handleStatusStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.timeout))

		r.Post("/api/hash/crack", s.handleCrack)
		r.Get("/api/hash/status", s.handleStatus)
		r.Get("/api/hash/crack/metadatas", s.handleMetadatas)
		r.Post("/internal/api/manager/hash/crack/progress", s.handleProgress)
		if s.workers != nil {
			r.Post("/internal/api/manager/workers/register", s.handleRegisterWorker)
			r.Post("/internal/api/manager/workers/unregister", s.handleUnregisterWorker)
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logf(component, "Ошибка записи ответа: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError переводит ошибку оркестратора в HTTP-статус.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Logf(component, "Внутренняя ошибка: %v", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
