package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/speedrun-hq/speedrun-settler/pkg/chains"
)

// Level represents the severity level of a log message.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	NoticeLevel
	ErrorLevel
)

// ParseLevel converts a level name such as "debug" or "error" to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "notice":
		return NoticeLevel, nil
	case "error":
		return ErrorLevel, nil
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

var domainPrefixes = map[uint32]string{
	chains.DomainEthereum:  "[ETH]  ",
	chains.DomainAvalanche: "[AVAX] ",
	chains.DomainOptimism:  "[OP]   ",
	chains.DomainArbitrum:  "[ARB]  ",
	chains.DomainNoble:     "[NOBL] ",
	chains.DomainSolana:    "[SOL]  ",
	chains.DomainBase:      "[BASE] ",
	chains.DomainPolygon:   "[POL]  ",
	chains.DomainUnichain:  "[UNI]  ",
	chains.DomainLinea:     "[LINE] ",
}

var colors = map[uint32]color.Attribute{
	chains.DomainEthereum:  color.FgHiGreen,
	chains.DomainAvalanche: color.FgRed,
	chains.DomainOptimism:  color.FgHiRed,
	chains.DomainArbitrum:  color.FgHiBlue,
	chains.DomainNoble:     color.FgCyan,
	chains.DomainSolana:    color.FgMagenta,
	chains.DomainBase:      color.FgBlue,
	chains.DomainPolygon:   color.FgHiMagenta,
	chains.DomainUnichain:  color.FgYellow,
	chains.DomainLinea:     color.FgWhite,
}

// Logger is a simple interface for logging messages.
type Logger interface {
	// Info logs an informational message.
	Info(format string, args ...interface{})
	InfoWithDomain(domain uint32, format string, args ...interface{})

	// Error logs an error message.
	Error(format string, args ...interface{})
	ErrorWithDomain(domain uint32, format string, args ...interface{})

	// Debug logs a debug message.
	Debug(format string, args ...interface{})
	DebugWithDomain(domain uint32, format string, args ...interface{})

	// Notice logs a notice message.
	Notice(format string, args ...interface{})
	NoticeWithDomain(domain uint32, format string, args ...interface{})
}

// EmptyLogger is a simple implementation of the Logger interface that does nothing.
type EmptyLogger struct{}

var _ Logger = (*EmptyLogger)(nil)

func (l *EmptyLogger) Info(_ string, _ ...interface{})                       {}
func (l *EmptyLogger) InfoWithDomain(_ uint32, _ string, _ ...interface{})   {}
func (l *EmptyLogger) Error(_ string, _ ...interface{})                      {}
func (l *EmptyLogger) ErrorWithDomain(_ uint32, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Debug(_ string, _ ...interface{})                      {}
func (l *EmptyLogger) DebugWithDomain(_ uint32, _ string, _ ...interface{})  {}
func (l *EmptyLogger) Notice(_ string, _ ...interface{})                     {}
func (l *EmptyLogger) NoticeWithDomain(_ uint32, _ string, _ ...interface{}) {}

// StdLogger is a standard implementation of the Logger interface that logs messages to the console.
type StdLogger struct {
	enableColoring bool
	level          Level
	mu             sync.Mutex
	printf         func(format string, args ...interface{})
}

var _ Logger = (*StdLogger)(nil)

func NewStdLogger(enableColoring bool, level Level) *StdLogger {
	return &StdLogger{
		enableColoring: enableColoring,
		level:          level,
		printf:         log.Printf,
	}
}

// noDomain marks messages that are not tied to a CCTP domain
const noDomain = ^uint32(0)

// formatMessage formats the log message with the log level, domain prefix, and coloring if enabled.
func (l *StdLogger) formatMessage(level Level, domain uint32, format string) string {
	prefix := ""
	if domain != noDomain {
		var ok bool
		prefix, ok = domainPrefixes[domain]
		if !ok {
			prefix = fmt.Sprintf("[D%d]  ", domain)
		}
		if l.enableColoring {
			attr, ok := colors[domain]
			if !ok {
				attr = color.FgWhite
			}
			prefix = color.New(attr).Sprint(prefix)
		}
	}

	var levelStr string
	switch level {
	case DebugLevel:
		levelStr = "[DEBUG]  "
	case InfoLevel:
		levelStr = "[INFO]   "
	case NoticeLevel:
		levelStr = "[NOTICE] "
	case ErrorLevel:
		levelStr = "[ERROR]  "
	}

	return levelStr + prefix + format
}

func (l *StdLogger) logf(level Level, domain uint32, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level <= level {
		l.printf(l.formatMessage(level, domain, format), args...)
	}
}

func (l *StdLogger) Info(format string, args ...interface{}) {
	l.logf(InfoLevel, noDomain, format, args...)
}

func (l *StdLogger) InfoWithDomain(domain uint32, format string, args ...interface{}) {
	l.logf(InfoLevel, domain, format, args...)
}

func (l *StdLogger) Error(format string, args ...interface{}) {
	l.logf(ErrorLevel, noDomain, format, args...)
}

func (l *StdLogger) ErrorWithDomain(domain uint32, format string, args ...interface{}) {
	l.logf(ErrorLevel, domain, format, args...)
}

func (l *StdLogger) Debug(format string, args ...interface{}) {
	l.logf(DebugLevel, noDomain, format, args...)
}

func (l *StdLogger) DebugWithDomain(domain uint32, format string, args ...interface{}) {
	l.logf(DebugLevel, domain, format, args...)
}

func (l *StdLogger) Notice(format string, args ...interface{}) {
	l.logf(NoticeLevel, noDomain, format, args...)
}

func (l *StdLogger) NoticeWithDomain(domain uint32, format string, args ...interface{}) {
	l.logf(NoticeLevel, domain, format, args...)
}
