package models

// SubtaskStatus – статус подзадачи.
type SubtaskStatus string

const (
	SubtaskStatusPending    SubtaskStatus = "PENDING"
	SubtaskStatusInProgress SubtaskStatus = "IN_PROGRESS"
	SubtaskStatusSuccess    SubtaskStatus = "SUCCESS"
	SubtaskStatusError      SubtaskStatus = "ERROR"
	SubtaskStatusUnknown    SubtaskStatus = "UNKNOWN"
)

func (s SubtaskStatus) String() string {
	return string(s)
}

// ParseSubtaskStatus разбирает строку статуса; всё нераспознанное становится UNKNOWN.
func ParseSubtaskStatus(s string) SubtaskStatus {
	switch SubtaskStatus(s) {
	case SubtaskStatusPending, SubtaskStatusInProgress, SubtaskStatusSuccess, SubtaskStatusError:
		return SubtaskStatus(s)
	default:
		return SubtaskStatusUnknown
	}
}

// Rank задаёт порядок продвижения подзадачи: PENDING < IN_PROGRESS < SUCCESS = ERROR.
// UNKNOWN имеет ранг -1 и никогда не принимается как новый статус.
func (s SubtaskStatus) Rank() int {
	switch s {
	case SubtaskStatusPending:
		return 0
	case SubtaskStatusInProgress:
		return 1
	case SubtaskStatusSuccess, SubtaskStatusError:
		return 2
	default:
		return -1
	}
}

func (s SubtaskStatus) Terminal() bool {
	return s == SubtaskStatusSuccess || s == SubtaskStatusError
}

// TaskStatus – статус задачи, вычисляемый агрегатором по подзадачам.
type TaskStatus string

const (
	TaskStatusPending      TaskStatus = "PENDING"
	TaskStatusInProgress   TaskStatus = "IN_PROGRESS"
	TaskStatusPartialReady TaskStatus = "PARTIAL_READY"
	TaskStatusReady        TaskStatus = "READY"
	TaskStatusError        TaskStatus = "ERROR"
	TaskStatusUnknown      TaskStatus = "UNKNOWN"
)

func (s TaskStatus) String() string {
	return string(s)
}

// ParseTaskStatus разбирает строку статуса задачи.
func ParseTaskStatus(s string) TaskStatus {
	switch TaskStatus(s) {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusPartialReady, TaskStatusReady, TaskStatusError:
		return TaskStatus(s)
	default:
		return TaskStatusUnknown
	}
}

// Rank: UNKNOWN < PENDING < IN_PROGRESS < PARTIAL_READY < READY = ERROR.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskStatusPending:
		return 0
	case TaskStatusInProgress:
		return 1
	case TaskStatusPartialReady:
		return 2
	case TaskStatusReady, TaskStatusError:
		return 3
	default:
		return -1
	}
}

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusReady || s == TaskStatusError
}

var (
	allSubtaskStatuses = []SubtaskStatus{
		SubtaskStatusUnknown, SubtaskStatusPending, SubtaskStatusInProgress, SubtaskStatusSuccess, SubtaskStatusError,
	}
	allTaskStatuses = []TaskStatus{
		TaskStatusUnknown, TaskStatusPending, TaskStatusInProgress, TaskStatusPartialReady, TaskStatusReady, TaskStatusError,
	}
)

// SubtaskStatusesBlocking возвращает сохранённые статусы подзадачи, при которых отчёт со статусом next
// отклоняется: терминальные и известные статусы с рангом выше next (orEqual – и с равным рангом).
// Хранилища строят по нему условие "status NOT IN", поэтому UNKNOWN и любая нераспознанная
// строка в базе ведут себя как ранг -1, так же как в Progress.Supersedes.
func SubtaskStatusesBlocking(next SubtaskStatus, orEqual bool) []SubtaskStatus {
	res := make([]SubtaskStatus, 0, len(allSubtaskStatuses))
	for _, s := range allSubtaskStatuses {
		if s == SubtaskStatusUnknown {
			continue
		}
		if s.Terminal() || s.Rank() > next.Rank() || (orEqual && s.Rank() == next.Rank()) {
			res = append(res, s)
		}
	}
	return res
}

// TaskStatusesBlocking возвращает сохранённые статусы задачи, которые агрегат со статусом next
// не может заменить: терминальные и известные статусы с рангом выше next.
func TaskStatusesBlocking(next TaskStatus) []TaskStatus {
	res := make([]TaskStatus, 0, len(allTaskStatuses))
	for _, s := range allTaskStatuses {
		if s == TaskStatusUnknown {
			continue
		}
		if s.Terminal() || s.Rank() > next.Rank() {
			res = append(res, s)
		}
	}
	return res
}

// TerminalTaskStatuses – статусы, после которых задача больше не меняется.
func TerminalTaskStatuses() []TaskStatus {
	return []TaskStatus{TaskStatusReady, TaskStatusError}
}
