package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ptrvsrg/crack-hash/internal/logger"
	"github.com/ptrvsrg/crack-hash/internal/models"
	"github.com/ptrvsrg/crack-hash/internal/orchestrator"
)

type CrackRequest struct {
	Hash      string `json:"hash"`
	MaxLength int    `json:"maxLength"`
	// PartCount не обязателен: без него число частей выбирается по размеру пространства поиска.
	PartCount *int `json:"partCount,omitempty"`
}

type CrackResponse struct {
	RequestId string `json:"requestId"`
}

type SubtaskStatusResponse struct {
	PartNumber int      `json:"partNumber"`
	Status     string   `json:"status"`
	Data       []string `json:"data"`
	Percent    float64  `json:"percent"`
}

type StatusResponse struct {
	Status   string                  `json:"status"`
	Data     []string                `json:"data"`
	Percent  float64                 `json:"percent"`
	Reason   *string                 `json:"reason,omitempty"`
	Subtasks []SubtaskStatusResponse `json:"subtasks"`
}

type TaskMetadata struct {
	RequestId string    `json:"requestId"`
	CreatedAt time.Time `json:"createdAt"`
	Hash      string    `json:"hash"`
	MaxLength int       `json:"maxLength"`
}

type MetadatasResponse struct {
	Count int64          `json:"count"`
	Tasks []TaskMetadata `json:"tasks"`
}

func (s *Server) handleCrack(w http.ResponseWriter, r *http.Request) {
	var req CrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Logf(component, "Ошибка декодирования запроса: %v", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var partCount int
	if req.PartCount != nil {
		partCount = *req.PartCount
	} else {
		n, err := s.svc.SplitCount(req.MaxLength)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		partCount = n
	}

	id, err := s.svc.CreateTask(r.Context(), req.Hash, req.MaxLength, partCount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CrackResponse{RequestId: id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("requestId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	view, err := s.svc.GetTaskStatus(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(view))
}

func (s *Server) handleMetadatas(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	page, err := s.svc.ListTasks(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := MetadatasResponse{Count: page.Count, Tasks: make([]TaskMetadata, 0, len(page.Tasks))}
	for _, t := range page.Tasks {
		resp.Tasks = append(resp.Tasks, TaskMetadata{
			RequestId: t.ID,
			CreatedAt: t.CreatedAt,
			Hash:      t.Hash,
			MaxLength: t.MaxLength,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleProgress принимает отчёт воркера по HTTP; устаревшие отчёты принимаются молча.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	var msg models.ResultMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg.RequestId == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	if err := s.svc.ReportSubtaskProgress(r.Context(), msg.RequestId, msg.PartNumber, msg.Progress()); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newStatusResponse(view *orchestrator.StatusView) StatusResponse {
	resp := StatusResponse{
		Status:   view.Status.String(),
		Data:     nonNil(view.Data),
		Percent:  view.Percent,
		Reason:   view.Reason,
		Subtasks: make([]SubtaskStatusResponse, 0, len(view.Subtasks)),
	}
	for _, sub := range view.Subtasks {
		resp.Subtasks = append(resp.Subtasks, SubtaskStatusResponse{
			PartNumber: sub.PartNumber,
			Status:     sub.Status.String(),
			Data:       nonNil(sub.Data),
			Percent:    sub.Percent,
		})
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// queryInt разбирает необязательный целочисленный параметр; отсутствие даёт 0.
func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
