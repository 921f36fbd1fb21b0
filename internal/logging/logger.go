package logging

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level определяет уровни логирования.
type Level int

const (
	TRACE Level = iota
	DEBUG
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger пишет в консоль (уровень INFO и выше) и в файл (все уровни).
type Logger struct {
	mu            sync.Mutex
	consoleLogger *log.Logger
	fileLogger    *log.Logger
	file          *os.File
	minConsole    Level
}

var global = &Logger{
	consoleLogger: log.New(os.Stdout, "", log.LstdFlags),
	minConsole:    INFO,
}

// Init открывает logs/server_<timestamp>.log и начинает duplicating туда все уровни.
// Безопасно вызывать несколько раз; повторный вызов переоткрывает файл.
func Init(dir string) error {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(dir, fmt.Sprintf("server_%s.log", timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	global.mu.Lock()
	global.file = file
	global.fileLogger = log.New(file, "", log.LstdFlags)
	global.mu.Unlock()
	return nil
}

// Close закрывает открытый файл журнала, если он был открыт.
func Close() {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.file != nil {
		global.file.Close()
		global.file = nil
	}
}

// SetConsoleLevel меняет минимальный уровень, выводимый в stdout.
func SetConsoleLevel(l Level) {
	global.mu.Lock()
	global.minConsole = l
	global.mu.Unlock()
}

func logMessage(level Level, format string, args ...interface{}) {
	global.mu.Lock()
	defer global.mu.Unlock()

	message := fmt.Sprintf("[%s] %s", level.String(), fmt.Sprintf(format, args...))
	if global.fileLogger != nil {
		global.fileLogger.Println(message)
	}
	if level >= global.minConsole {
		global.consoleLogger.Println(message)
	}
}

func Trace(format string, args ...interface{}) { logMessage(TRACE, format, args...) }
func Debug(format string, args ...interface{}) { logMessage(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { logMessage(INFO, format, args...) }
func Warn(format string, args ...interface{})  { logMessage(WARN, format, args...) }
func Error(format string, args ...interface{}) { logMessage(ERROR, format, args...) }

// LogWireMessage записывает hex-дамп входящего/исходящего сообщения на уровне DEBUG.
func LogWireMessage(connID string, direction string, msgID uint8, payload []byte) {
	Debug("=== %s MESSAGE %s msg=%d ===", direction, connID, msgID)
	Debug("Size: %d bytes", len(payload))
	if len(payload) > 0 {
		Debug("%s", HexDump(payload))
	}
}

// HexDump возвращает hex-дамп первых 256 байт data.
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "no data"
	}
	size := len(data)
	if size > 256 {
		size = 256
	}
	return hex.Dump(data[:size])
}

// LogProtocolError логирует ошибку декодирования протокола вместе с сырыми байтами.
func LogProtocolError(connID string, err error, data []byte) {
	Error("protocol error from %s: %v", connID, err)
	if len(data) > 0 {
		Error("raw data (%d bytes):", len(data))
		Error("%s", HexDump(data))
	}
}
