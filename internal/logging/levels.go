package logging

import (
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug (-2; Debug is -1) for ultra-verbose
// output such as executor wire traffic. Almost always filtered in
// production.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level name, supporting "trace" on top of
// the standard zap names.
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
