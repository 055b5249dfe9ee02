// Package logger is a small leveled logger writing to stdout (ANSI-colored
// by level) and a rotating file sink, the same shape as every other
// component in this core — no structured-logging library is pulled in
// because nothing downstream parses these logs; they're for an operator
// tailing a file.
package logger

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorWhite  = "" // INFO
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorGreen  = "\033[32m"
	ColorPurple = "\033[35m" // FATAL
)

var generalLogger *log.Logger

func init() {
	generalLogger = log.New(os.Stdout, "", 0)
}

func getColorForLevel(level string) string {
	switch level {
	case "[ERROR]":
		return ColorRed
	case "[WARNING]":
		return ColorYellow
	case "[DEBUG]":
		return ColorGreen
	case "[FATAL]":
		return ColorPurple
	default:
		return ColorWhite
	}
}

// Set points the logger at a rotating log file in addition to stdout.
func Set(path string) {
	logFile := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    1,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	}
	generalLogger = log.New(io.MultiWriter(os.Stdout, logFile), "", 0)
}

func Info(format string, args ...interface{})  { logMessage(format, "[INFO]", 2, args...) }
func Error(format string, args ...interface{}) { logMessage(format, "[ERROR]", 2, args...) }
func Warn(format string, args ...interface{})  { logMessage(format, "[WARNING]", 2, args...) }
func Debug(format string, args ...interface{}) { logMessage(format, "[DEBUG]", 2, args...) }

// Fatal logs and terminates the process. No package in this core calls
// it. The orchestrator's Fatal error kind (§7) is separate from this
// function, and no orchestrator code path returns that kind.
func Fatal(format string, args ...interface{}) {
	logMessage(format, "[FATAL]", 2, args...)
	os.Exit(1)
}

// logMessage formats a message, prefixing it with caller, timestamp, and
// session code when the last argument is a string shaped like one
// (6-char session code, §6.4) so a session's whole history greps cleanly.
func logMessage(format string, level string, skip int, args ...interface{}) {
	var code string
	formatArgs := args

	if len(args) > 0 {
		if s, ok := args[len(args)-1].(string); ok && len(s) == 6 && isAllDigits(s) {
			code = s
			formatArgs = args[:len(args)-1]
		}
	}

	_, file, line, ok := runtime.Caller(skip)
	var caller string
	if ok {
		parts := strings.Split(file, "/")
		caller = fmt.Sprintf("%s:%d:", parts[len(parts)-1], line)
	}

	var message string
	if len(formatArgs) > 0 {
		message = fmt.Sprintf(format, formatArgs...)
	} else {
		message = format
	}

	now := time.Now().Format("2006/01/02 15:04:05")
	color := getColorForLevel(level)

	if code != "" {
		generalLogger.Printf("%s%s %s %s [SESSION:%s] %s%s", color, now, caller, level, code, message, ColorReset)
	} else {
		generalLogger.Printf("%s%s %s %s %s%s", color, now, caller, level, message, ColorReset)
	}
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// GetSessionLogs replays every log line mentioning a session code through
// writer, or to stdout if writer is nil.
func GetSessionLogs(logFilePath string, code string, writer func(string)) error {
	emit := func(msg string) {
		if writer != nil {
			writer(msg)
		} else {
			fmt.Println(msg)
		}
	}

	file, err := os.Open(logFilePath)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	pattern := fmt.Sprintf("[SESSION:%s]", code)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, pattern) {
			emit(line)
		}
	}
	return scanner.Err()
}
