package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log  *zap.Logger
	once sync.Once
)

// Init builds the process logger: colored console output plus a rotated
// JSON file under dir. Safe to call more than once; only the first call wins.
func Init(dir string, debug bool) *zap.Logger {
	once.Do(func() {
		if dir == "" {
			dir = "logs"
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			panic(err)
		}

		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		consoleCfg.EncodeCaller = zapcore.ShortCallerEncoder
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.AddSync(os.Stdout),
			level(debug),
		)

		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.AddSync(&lumberjack.Logger{
				Filename:   filepath.Join(dir, "scalp-core.json"),
				MaxSize:    10, // MB
				MaxBackups: 30,
				MaxAge:     30, // days
				Compress:   true,
			}),
			zapcore.InfoLevel,
		)

		log = zap.New(zapcore.NewTee(consoleCore, fileCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		zap.ReplaceGlobals(log)
	})
	return log
}

func level(debug bool) zapcore.LevelEnabler {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Module returns a logger tagged with the component name.
func Module(name string) *zap.Logger {
	if log == nil {
		return zap.L().With(zap.String("module", name))
	}
	return log.With(zap.String("module", name))
}

// Sync flushes buffered file output.
func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}
