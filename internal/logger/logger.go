package logger

import (
	"fmt"
	"log"
	"strings"
	"sync/atomic"
)

var debug atomic.Bool

// SetLevel включает отладочные сообщения для уровня "debug"; остальные уровни их отключают.
func SetLevel(level string) {
	debug.Store(strings.EqualFold(level, "debug"))
}

// Log выводит сообщение компонента без контекста задачи.
func Log(component, message string) {
	log.Printf("[%s] : %s", component, message)
}

// Logf – Log с форматированием.
func Logf(component, format string, args ...any) {
	Log(component, fmt.Sprintf(format, args...))
}

// Debugf выводит сообщение только при включённом отладочном уровне.
func Debugf(component, format string, args ...any) {
	if !debug.Load() {
		return
	}
	log.Printf("[%s] DEBUG : %s", component, fmt.Sprintf(format, args...))
}

// LogHash выводит сообщение с указанием хэша задачи.
func LogHash(component, hash, message string) {
	log.Printf("[%s] \"%s\": %s", component, hash, message)
}

// LogTask выводит сообщение с указанием задачи, номера подзадачи и общего количества подзадач.
func LogTask(component, taskID string, partNumber, total int, message string) {
	log.Printf("[%s] \"%s(%d/%d)\": %s", component, taskID, partNumber, total, message)
}
