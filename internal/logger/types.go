package logger

import "strings"

type Logger interface {
	Trace(format string, args ...any)
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warning(format string, args ...any)
	Error(format string, args ...any)
	// Changes logger level to the newLevel
	ChangeLevel(newLevel LogLevel)
}

type LogLevel uint

const (
	NONE LogLevel = iota
	ERROR
	WARNING
	INFO
	DEBUG
	TRACE
)

var levelNames = [...]string{"NONE", "ERROR", "WARNING", "INFO", "DEBUG", "TRACE"}

func (l LogLevel) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "UNKNOWN"
}

// LevelFromString is case insensitive, unknown names map to DEBUG.
func LevelFromString(s string) LogLevel {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == s {
			return LogLevel(i)
		}
	}
	return DEBUG
}
