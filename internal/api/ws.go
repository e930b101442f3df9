package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ptrvsrg/crack-hash/internal/logger"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStatusStream отправляет статус задачи каждые pushInterval, пока задача не завершится
// или клиент не отключится. Последним сообщением всегда идёт терминальный статус.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("requestId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "requestId is required")
		return
	}
	// до апгрейда, чтобы отсутствующая задача получила обычный 404
	if _, err := s.svc.GetTaskStatus(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logf(component, "Ошибка апгрейда websocket для %s: %v", id, err)
		return
	}
	defer c.Close()

	// входящие сообщения не ожидаются; чтение нужно, чтобы заметить закрытие
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		view, err := s.svc.GetTaskStatus(r.Context(), id)
		if err != nil {
			logger.Logf(component, "Ошибка получения статуса %s: %v", id, err)
			closeWith(c, websocket.CloseInternalServerErr, "status unavailable")
			return
		}
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteJSON(newStatusResponse(view)); err != nil {
			logger.Debugf(component, "Клиент %s отключился: %v", id, err)
			return
		}
		if view.Status.Terminal() {
			closeWith(c, websocket.CloseNormalClosure, view.Status.String())
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
		}
	}
}

func closeWith(c *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
