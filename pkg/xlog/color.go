package xlog

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Foreground colors for TTY output, same values as zap/internal/color.
const (
	colorRed termColor = iota + 31
	_
	colorYellow
	colorBlue
	colorMagenta
)

type termColor uint8

func (c termColor) Add(s string) string {
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", uint8(c), s)
}

var levelColors = map[zapcore.Level]termColor{
	zapcore.DebugLevel: colorMagenta,
	zapcore.InfoLevel:  colorBlue,
	zapcore.WarnLevel:  colorYellow,
}

// levelEncoder pads level names to five columns so console lines align.
func levelEncoder(withColor bool) zapcore.LevelEncoder {
	return func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := fmt.Sprintf("%-5s", l.CapitalString())
		if withColor {
			c, ok := levelColors[l]
			if !ok {
				c = colorRed
			}
			name = c.Add(name)
		}
		enc.AppendString(name)
	}
}
