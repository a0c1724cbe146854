package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Verbose reports whether debug logging is enabled. Callers may check it
// before assembling expensive log arguments.
var Verbose bool

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.InfoLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
}

// Config controls the global logger.
type Config struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
	File   string `json:"file" yaml:"file"`
}

// Init reconfigures the global logger. Level is any logrus level name,
// format is "text" (default) or "json", output is "stderr" (default),
// "stdout" or "file" combined with a file path.
func Init(config *Config) error {
	if config == nil {
		return nil
	}

	if config.Level != "" {
		level, err := logrus.ParseLevel(config.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %s", config.Level)
		}
		logger.SetLevel(level)
	}
	Verbose = logger.IsLevelEnabled(logrus.DebugLevel)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	switch config.Output {
	case "", "stderr":
		logger.SetOutput(os.Stderr)
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "file":
		if config.File == "" {
			return fmt.Errorf("log output is file but no file path given")
		}
		file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %v", err)
		}
		logger.SetOutput(file)
	default:
		return fmt.Errorf("invalid log output: %s", config.Output)
	}

	return nil
}

// SetVerbose toggles debug-level logging.
func SetVerbose(on bool) {
	Verbose = on
	if on {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
}

func Debug(format string, args ...interface{}) {
	logger.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	logger.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	logger.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	logger.Errorf(format, args...)
}

// DebugMethod logs a debug message attributed to a package and method.
func DebugMethod(pkg, method, format string, args ...interface{}) {
	if !Verbose {
		return
	}
	logger.WithFields(logrus.Fields{
		"pkg":    pkg,
		"method": method,
	}).Debugf(format, args...)
}
