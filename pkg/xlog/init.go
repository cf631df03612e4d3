package xlog

import (
	"os"

	"github.com/pkg/errors"
	"go.elastic.co/ecszap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// FieldTimestamp is the ECS timestamp key.
const FieldTimestamp = "@timestamp"

var gLogger Logger

func init() {
	gLogger = newLogger(zap.New(newCore(zapcore.Lock(os.Stdout), false, zapcore.DebugLevel), defaultOptions()...))
}

// Config selects the process logger outputs.
type Config struct {
	Level    string `env:"LEVEL" envDefault:"debug" yaml:"level"`
	Prod     bool   `env:"PROD" yaml:"prod"`
	Stdout   bool   `env:"STDOUT" envDefault:"true" yaml:"stdout"`
	File     string `env:"FILE" yaml:"file"`
	MaxBytes int64  `env:"MAX_BYTES" envDefault:"1048576" yaml:"max_bytes"` // <= 0 disables rotation
}

// Init replaces the process logger. The returned func flushes and closes the file sink.
func Init(conf Config) (func() error, error) {
	lvl, err := zapcore.ParseLevel(conf.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", conf.Level)
	}
	cores := make([]zapcore.Core, 0, 2)
	if conf.Stdout {
		cores = append(cores, newCore(zapcore.Lock(os.Stdout), conf.Prod, lvl))
	}
	closer := func() error { return nil }
	if conf.File != "" {
		file, err := OpenRotatingFile(conf.File, conf.MaxBytes)
		if err != nil {
			return nil, err
		}
		// 文件日志总是json
		cores = append(cores, newCore(file, true, lvl))
		closer = file.Close
	}
	raw := zap.New(zapcore.NewTee(cores...), defaultOptions()...)
	gLogger = newLogger(raw)
	return func() error {
		_ = raw.Sync()
		return closer()
	}, nil
}

// New builds a standalone logger on top of an arbitrary sink.
func New(ws zapcore.WriteSyncer, lvl zapcore.Level, json bool) Logger {
	return newLogger(zap.New(newCore(ws, json, lvl), defaultOptions()...))
}

func newCore(ws zapcore.WriteSyncer, isProd bool, lvl zapcore.Level) zapcore.Core {
	return zapcore.NewCore(getEncoder(isProd), ws, zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= lvl
	}))
}

func getEncoder(isProd bool) zapcore.Encoder {
	// ECS兼容格式, 便于日志被ELK归档
	config := ecsCompatibleEncoder(!isProd)
	config.TimeKey = FieldTimestamp
	config.EncodeTime = zapcore.ISO8601TimeEncoder
	if isProd {
		return zapcore.NewJSONEncoder(config)
	}
	return zapcore.NewConsoleEncoder(config)
}

func ecsCompatibleEncoder(withColor bool) zapcore.EncoderConfig {
	return ecszap.EncoderConfig{
		EnableName:       true,
		EncodeName:       zapcore.FullNameEncoder,
		EnableStackTrace: true,
		EnableCaller:     true,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      levelEncoder(withColor),
		EncodeDuration:   zapcore.StringDurationEncoder,
	}.ToZapCoreEncoderConfig()
}

func defaultOptions() []zap.Option {
	return []zap.Option{
		zap.WithCaller(true),
		zap.AddStacktrace(zap.NewAtomicLevelAt(zap.DPanicLevel)),
	}
}
