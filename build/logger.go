package build

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Every package gets its own logger through AddSubLogger. The returned
// logger writes nothing itself; output happens through three hooks that
// share a level per subsystem: colored console, plain file and JSON file.

var logMu sync.Mutex
var subsystems = map[string]*subsystemHooks{}

type subsystemHooks struct {
	console  *consoleHook
	file     *fileHook
	jsonFile *jsonHook
}

func (s *subsystemHooks) setLevel(level logrus.Level) {
	s.console.level = level
	s.file.level = level
	s.jsonFile.level = level
}

func (s *subsystemHooks) setDir(dir string) error {
	file, err := openAppend(filepath.Join(dir, "hgd.log"))
	if err != nil {
		return fmt.Errorf("could not open log file: %w", err)
	}
	s.file.out = file

	jsonFile, err := openAppend(filepath.Join(dir, "hgd.log.json"))
	if err != nil {
		return fmt.Errorf("could not open JSON log file: %w", err)
	}
	s.jsonFile.out = jsonFile
	return nil
}

// AddSubLogger registers a named subsystem and returns its logger.
func AddSubLogger(subsystem string) *logrus.Logger {
	logMu.Lock()
	defer logMu.Unlock()

	logger := logrus.New()
	// all output goes through the hooks
	logger.SetOutput(io.Discard)

	hooks := &subsystemHooks{
		console:  &consoleHook{subsystem: subsystem, level: logrus.InfoLevel},
		file:     &fileHook{subsystem: subsystem, level: logrus.InfoLevel},
		jsonFile: &jsonHook{subsystem: subsystem, level: logrus.InfoLevel},
	}
	logger.AddHook(hooks.console)
	logger.AddHook(hooks.file)
	logger.AddHook(hooks.jsonFile)
	subsystems[subsystem] = hooks

	return logger
}

// SetLogLevel sets the log level for a single subsystem. Unknown
// subsystems are ignored.
func SetLogLevel(subsystem string, level logrus.Level) {
	logMu.Lock()
	defer logMu.Unlock()

	hooks, ok := subsystems[subsystem]
	if !ok {
		return
	}
	hooks.setLevel(level)
}

// SetLogLevels sets the log level for every registered subsystem.
func SetLogLevels(level logrus.Level) {
	logMu.Lock()
	defer logMu.Unlock()

	for _, hooks := range subsystems {
		hooks.setLevel(level)
	}
}

// SetLogDir makes every subsystem append to hgd.log and hgd.log.json in
// the given directory.
func SetLogDir(dir string) error {
	logMu.Lock()
	defer logMu.Unlock()

	for _, hooks := range subsystems {
		if err := hooks.setDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// ToLogLevel takes in a string and converts it to a Logrus log level
func ToLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	case "fatal":
		return logrus.FatalLevel, nil
	case "panic":
		return logrus.FatalLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("%s is not a valid log level", s)
	}
}

func openAppend(file string) (*os.File, error) {
	return os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

type consoleHook struct {
	subsystem string
	level     logrus.Level
}

var _ logrus.Hook = &consoleHook{}

var consoleFormat = logrus.TextFormatter{
	TimestampFormat: "15:04:05",
	ForceColors:     true,
	FullTimestamp:   true,
}

func (c *consoleHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (c *consoleHook) Fire(entry *logrus.Entry) error {
	if entry == nil || c.level < entry.Level {
		return nil
	}

	copied := *entry
	copied.Message = fmt.Sprintf("%s %s", c.subsystem, entry.Message)
	formatted, err := consoleFormat.Format(&copied)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(formatted)
	return err
}

type fileHook struct {
	subsystem string
	level     logrus.Level
	out       *os.File
}

var _ logrus.Hook = &fileHook{}

var fileFormat = logrus.TextFormatter{
	// logrus drops the timestamp entirely without colors, so format
	// with color and strip the ANSI codes before writing
	ForceColors:     true,
	TimestampFormat: time.RFC3339,
	FullTimestamp:   true,
}

var ansiRegex = regexp.MustCompile(
	"[][[\\]()#;?]*(?:(?:(?:[a-zA-Z\\d]*(?:;[a-zA-Z\\d]*)*)?)|(?:(?:\\d{1,4}(?:;\\d{0,4})*)?[\\dA-PRZcf-ntqry=><~]))")

func (f *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (f *fileHook) Fire(entry *logrus.Entry) error {
	if f.out == nil || entry == nil || f.level < entry.Level {
		return nil
	}

	copied := *entry
	copied.Message = fmt.Sprintf("%s %s", f.subsystem, entry.Message)
	formatted, err := fileFormat.Format(&copied)
	if err != nil {
		return err
	}

	_, err = f.out.Write(ansiRegex.ReplaceAll(formatted, nil))
	return err
}

type jsonHook struct {
	subsystem string
	level     logrus.Level
	out       *os.File
}

var _ logrus.Hook = &jsonHook{}

var jsonFormat = logrus.JSONFormatter{
	TimestampFormat: time.RFC3339,
}

func (j *jsonHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (j *jsonHook) Fire(entry *logrus.Entry) error {
	if j.out == nil || entry == nil || j.level < entry.Level {
		return nil
	}

	// WithField shares the underlying entry map with the other hooks,
	// so copy message and level over manually
	withSubsystem := entry.WithField("subsystem", j.subsystem)
	withSubsystem.Message = entry.Message
	withSubsystem.Level = entry.Level
	formatted, err := jsonFormat.Format(withSubsystem)
	if err != nil {
		return err
	}

	_, err = j.out.Write(formatted)
	return err
}
