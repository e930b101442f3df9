package models

import (
	"encoding/json"
	"strings"
)

// TaskMessage – сообщение, отправляемое воркерам через очередь "tasks".
type TaskMessage struct {
	RequestId  string   `json:"requestId"`
	PartNumber int      `json:"partNumber"`
	PartCount  int      `json:"partCount"`
	Hash       string   `json:"hash"`
	MaxLength  int      `json:"maxLength"`
	Alphabet   []string `json:"alphabet"`
	RangeStart uint64   `json:"rangeStart"`
	RangeEnd   uint64   `json:"rangeEnd"`
}

// ResultMessage – отчёт воркера о ходе выполнения, приходящий через очередь "results".
type ResultMessage struct {
	RequestId  string   `json:"requestId"`
	PartNumber int      `json:"partNumber"`
	Status     string   `json:"status"`
	Percent    *float64 `json:"percent,omitempty"`
	Words      []string `json:"words,omitempty"`
	Error      *string  `json:"error,omitempty"`
}

// NewTaskMessage собирает сообщение для подзадачи.
func NewTaskMessage(task *Task, subtask *Subtask, alphabet string) TaskMessage {
	return TaskMessage{
		RequestId:  task.ID,
		PartNumber: subtask.PartNumber,
		PartCount:  task.PartCount,
		Hash:       task.Hash,
		MaxLength:  task.MaxLength,
		Alphabet:   strings.Split(alphabet, ""),
		RangeStart: subtask.RangeStart,
		RangeEnd:   subtask.RangeEnd,
	}
}

// Progress переводит сообщение результата в отчёт о прогрессе. Без percent успешный отчёт
// считается завершённым на 100%, остальные – на 0% (для ERROR сохранённый процент не теряется).
func (m ResultMessage) Progress() Progress {
	p := Progress{
		Status: ParseSubtaskStatus(m.Status),
		Data:   m.Words,
	}
	switch {
	case m.Percent != nil:
		p.Percent = *m.Percent
	case p.Status == SubtaskStatusSuccess:
		p.Percent = 100
	}
	if m.Error != nil {
		p.Reason = *m.Error
	}
	return p
}

// MarshalTaskMessage сериализует TaskMessage в JSON.
func MarshalTaskMessage(msg TaskMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// UnmarshalResultMessage десериализует JSON-данные в структуру ResultMessage.
func UnmarshalResultMessage(data []byte, res *ResultMessage) error {
	return json.Unmarshal(data, res)
}
