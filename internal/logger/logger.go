package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Logger is the service-wide logger. Every line carries a category so that
// request, queue, store and broker activity can be grepped apart.
type Logger struct {
	base *logrus.Logger
	file *os.File
}

type Options struct {
	Level  string
	Format string // "console" or "json"
	Output io.Writer
	File   string
}

// NewLogger builds a logger from LOG_LEVEL, LOG_FORMAT and LOG_FILE.
func NewLogger() *Logger {
	return New(Options{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
		File:   os.Getenv("LOG_FILE"),
	})
}

func New(opts Options) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&consoleFormatter{})
	}

	l := &Logger{base: base}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
		if err == nil {
			l.file = f
			out = io.MultiWriter(out, f)
		} else {
			base.WithField("category", "LOGGER").Warn("Failed to open log file, logging to stdout only")
		}
	}
	base.SetOutput(out)

	return l
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() *Logger {
	return New(Options{Output: io.Discard, Level: "panic"})
}

func (l *Logger) Close() {
	if l.file != nil {
		_ = l.file.Close()
	}
}

// WithFields exposes structured context for call sites that need more than a message.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.base.WithFields(fields)
}

func (l *Logger) entry(category string) *logrus.Entry {
	return l.base.WithField("category", category)
}

func (l *Logger) Info(category, message string)  { l.entry(category).Info(message) }
func (l *Logger) Warn(category, message string)  { l.entry(category).Warn(message) }
func (l *Logger) Error(category, message string) { l.entry(category).Error(message) }
func (l *Logger) Debug(category, message string) { l.entry(category).Debug(message) }
func (l *Logger) Fatal(category, message string) { l.entry(category).Fatal(message) }

func (l *Logger) LogProcess(category, message string) {
	l.entry(category).WithField("kind", "process").Info(message)
}

func (l *Logger) LogDatabase(operation, backend, message string) {
	l.entry("DATABASE").WithFields(logrus.Fields{"op": operation, "backend": backend}).Info(message)
}

func (l *Logger) LogKafka(operation, topic, message string) {
	l.entry("KAFKA").WithFields(logrus.Fields{"op": operation, "topic": topic}).Info(message)
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.entry("API").WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   status,
		"duration": duration,
	}).Info(fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogSecurity(event, message string) {
	l.entry("SECURITY").WithField("event", event).Warn(message)
}

func (l *Logger) LogOrder(operation, orderID, message string) {
	l.entry("ORDER").WithFields(logrus.Fields{"op": operation, "order_id": orderID}).Info(message)
}

func (l *Logger) LogTable(operation, tableID, message string) {
	l.entry("TABLE").WithFields(logrus.Fields{"op": operation, "table_id": tableID}).Info(message)
}

func (l *Logger) LogSession(operation, sessionID, message string) {
	l.entry("SESSION").WithFields(logrus.Fields{"op": operation, "session_id": sessionID}).Info(message)
}

func (l *Logger) LogPayment(operation, reference, message string) {
	l.entry("PAYMENT").WithFields(logrus.Fields{"op": operation, "ref": reference}).Info(message)
}

func (l *Logger) LogQueue(queue, operation, message string) {
	l.entry("QUEUE").WithFields(logrus.Fields{"queue": queue, "op": operation}).Debug(message)
}

type consoleFormatter struct{}

var levelColors = map[logrus.Level]*color.Color{
	logrus.PanicLevel: color.New(color.FgHiRed, color.Bold),
	logrus.FatalLevel: color.New(color.FgHiRed, color.Bold),
	logrus.ErrorLevel: color.New(color.FgRed),
	logrus.WarnLevel:  color.New(color.FgYellow),
	logrus.InfoLevel:  color.New(color.FgGreen),
	logrus.DebugLevel: color.New(color.FgCyan),
	logrus.TraceLevel: color.New(color.FgWhite),
}

var categoryColor = color.New(color.FgMagenta, color.Bold)

func (f *consoleFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer

	level := strings.ToUpper(e.Level.String())
	if c, ok := levelColors[e.Level]; ok {
		level = c.Sprint(level)
	}

	category, _ := e.Data["category"].(string)
	if category == "" {
		category = "APP"
	}

	fmt.Fprintf(&b, "%s %-5s %s %s",
		e.Time.Format("2006-01-02 15:04:05.000"),
		level,
		categoryColor.Sprintf("[%s]", category),
		e.Message,
	)

	for k, v := range e.Data {
		if k == "category" || k == "kind" {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
