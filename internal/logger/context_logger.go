package logger

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type (
	ContextLogger struct {
		mu              sync.RWMutex
		zeroLogger      *zerolog.Logger
		level           LogLevel
		context         Context
		showGoroutineID bool
	}

	Context map[string]any
)

// newContextLogger creates the logger but the zerolog instance is created on first use,
// so loggers can be created in package var blocks before the global configuration is loaded.
func newContextLogger(level LogLevel, context Context, showGoroutineID bool) *ContextLogger {
	return &ContextLogger{level: level, context: context, showGoroutineID: showGoroutineID}
}

func (c *ContextLogger) update(level LogLevel, context Context, showGoroutineID bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = level
	c.context = context
	c.showGoroutineID = showGoroutineID
	c.zeroLogger = nil
}

func (c *ContextLogger) logger() *zerolog.Logger {
	c.mu.RLock()
	zl := c.zeroLogger
	c.mu.RUnlock()
	if zl != nil {
		return zl
	}
	InitializeGlobalLogger()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.zeroLogger == nil {
		zeroLogger := log.Level(toZeroLevel(c.level))
		for key, value := range c.context {
			zeroLogger = zeroLogger.With().Interface(key, value).Logger()
		}
		if c.showGoroutineID {
			zeroLogger = zeroLogger.Hook(goRoutineIDHook{})
		}
		c.zeroLogger = &zeroLogger
	}
	return c.zeroLogger
}

func (c *ContextLogger) Trace(format string, args ...any) {
	logMessage(c.logger().Trace(), format, args)
}

func (c *ContextLogger) Debug(format string, args ...any) {
	logMessage(c.logger().Debug(), format, args)
}

func (c *ContextLogger) Info(format string, args ...any) {
	logMessage(c.logger().Info(), format, args)
}

func (c *ContextLogger) Warning(format string, args ...any) {
	logMessage(c.logger().Warn(), format, args)
}

func (c *ContextLogger) Error(format string, args ...any) {
	logMessage(c.logger().Error(), format, args)
}

func logMessage(event *zerolog.Event, format string, args []any) {
	if len(args) == 0 {
		event.Msg(format)
	} else {
		event.Msgf(format, args...)
	}
}

// ChangeLevel changes the level of the context logger.
func (c *ContextLogger) ChangeLevel(newLevel LogLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = newLevel
	c.zeroLogger = nil
}

// A hook that adds goroutine ID to the log event
type goRoutineIDHook struct{}

func (h goRoutineIDHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	e.Uint64("GoID", goroutineID())
}

func toZeroLevel(lvl LogLevel) zerolog.Level {
	switch lvl {
	case NONE:
		return zerolog.Disabled
	case TRACE:
		return zerolog.TraceLevel
	case DEBUG:
		return zerolog.DebugLevel
	case INFO:
		return zerolog.InfoLevel
	case WARNING:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		panic(fmt.Sprintf("unknown level: %d", lvl))
	}
}
