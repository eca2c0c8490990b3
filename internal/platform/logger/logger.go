package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hearthealt/anyrouter-autosign/internal/domain/model"
	"github.com/hearthealt/anyrouter-autosign/internal/platform/ui"
	"github.com/hearthealt/anyrouter-autosign/pkg/utils"
)

type Options struct {
	Path       string
	Level      string
	Format     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	base    = newDiscardLogger()
	once    sync.Once
	rotator *lumberjack.Logger
)

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

// Init points every class logger at a rotating file. Until it is called
// output is discarded.
func Init(opts Options) error {
	var err error
	once.Do(func() {
		level := logrus.InfoLevel
		if opts.Level != "" {
			if level, err = logrus.ParseLevel(opts.Level); err != nil {
				return
			}
		}
		if err = os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return
		}
		rotator = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}

		l := logrus.New()
		l.SetOutput(rotator)
		l.SetLevel(level)
		if strings.EqualFold(opts.Format, "json") {
			l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
		} else {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
		}
		base = l
	})
	return err
}

func Close() error {
	if rotator != nil {
		return rotator.Close()
	}
	return nil
}

// SetOutput redirects the shared logger, mostly for tests.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

type ClassLogger struct {
	class   string
	account *model.Account
}

func NewLogger(v interface{}, account *model.Account) *ClassLogger {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return &ClassLogger{class: t.Name(), account: account.LoggingAccount()}
}

func NewNamed(name string, account *model.Account) *ClassLogger {
	return &ClassLogger{class: name, account: account.LoggingAccount()}
}

// WithAccount returns a logger bound to a (possibly updated) account snapshot.
func (l *ClassLogger) WithAccount(account *model.Account) *ClassLogger {
	return &ClassLogger{class: l.class, account: account.LoggingAccount()}
}

func (l *ClassLogger) entry(skip int) *logrus.Entry {
	fields := logrus.Fields{
		"class": l.class,
		"func":  callerFunc(skip),
	}
	if l.account != nil {
		fields["account"] = l.account.Label()
		fields["account_id"] = l.account.ID
	}
	return base.WithFields(fields)
}

// Log records msg at info level and mirrors it on the account's UI block.
func (l *ClassLogger) Log(msg string) {
	l.entry(3).Info(msg)
	if l.account != nil && ui.Enabled() {
		ui.UpdateStatus(*l.account, shortenForDisplay(msg), 0)
	}
}

// JustLog records msg at debug level without touching the UI.
func (l *ClassLogger) JustLog(msg string) {
	l.entry(3).Debug(msg)
}

func (l *ClassLogger) Warn(msg string) {
	l.entry(3).Warn(msg)
}

func (l *ClassLogger) Error(msg string, err error) {
	e := l.entry(3)
	if err != nil {
		e = e.WithError(err)
	}
	e.Error(msg)
}

func (l *ClassLogger) LogObject(msg string, obj interface{}) {
	formattedString, err := utils.FormatObject(obj)
	if err != nil {
		l.entry(3).Debug(fmt.Sprintf("Error formatting object: %v", err))
		return
	}
	l.entry(3).Debug(fmt.Sprintf("%s : \n%v", msg, formattedString))
}

func callerFunc(skip int) string {
	pc, _, _, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	parts := strings.Split(fn.Name(), ".")
	return parts[len(parts)-1]
}

func shortenForDisplay(msg string) string {
	const maxLen = 140
	runes := []rune(msg)
	if len(runes) <= maxLen {
		return msg
	}
	return string(runes[:maxLen-1]) + "…"
}
