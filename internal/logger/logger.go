package logger

import (
	"os"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var AppName = "ScanTriageService"

// Options controla a criação do logger. LogPath vazio desativa o arquivo.
type Options struct {
	Env     string
	Level   string
	LogPath string
}

// New monta o logger do processo: console colorido + JSON em arquivo rotativo.
// Deve ser chamado uma vez no main e repassado aos componentes.
func New(opts Options) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.CallerKey = "caller"
	encoderCfg.LevelKey = "level"
	encoderCfg.MessageKey = "message"

	level := zapcore.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, err
		}
	}

	consoleCfg := encoderCfg
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.AddSync(os.Stdout), level),
	}

	if opts.LogPath != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.LogPath,
			MaxSize:    50,
			MaxBackups: 7,
			MaxAge:     30,
			Compress:   true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), fileWriter, level))
	}

	env := opts.Env
	if env == "" {
		env = "production"
	}

	return zap.New(zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(
			zap.String("app", AppName),
			zap.String("env", env),
		),
	), nil
}

// Trace registra o tempo gasto por fn. Uso: defer logger.Trace(log, "Clone", time.Now()).
func Trace(log *zap.Logger, fn string, start time.Time) {
	log.Debug("executed", zap.String("function", fn), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}

// TraceAuto é como Trace, mas descobre o nome da função chamadora.
func TraceAuto(log *zap.Logger) func() {
	start := time.Now()
	pc, _, _, ok := runtime.Caller(1)
	funcName := "unknown"
	if ok {
		funcName = trimPackagePath(runtime.FuncForPC(pc).Name())
	}
	return func() {
		Trace(log, funcName, start)
	}
}

func trimPackagePath(fullName string) string {
	if idx := strings.LastIndex(fullName, "/"); idx != -1 {
		fullName = fullName[idx+1:]
	}
	if idx := strings.Index(fullName, "."); idx != -1 {
		return fullName[idx+1:]
	}
	return fullName
}
