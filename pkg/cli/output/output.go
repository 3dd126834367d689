// Package output 命令行输出：表格、JSON以及带颜色的提示信息
package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/fatih/color"
)

// Out 命令输出目标，测试中可替换
var Out io.Writer = os.Stdout

// PrintJSON 以缩进JSON输出
func PrintJSON(data any) error {
	enc := json.NewEncoder(Out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Success 输出成功消息
func Success(format string, args ...any) {
	color.New(color.FgGreen, color.Bold).Fprintf(Out, "✅ "+format+"\n", args...)
}

// Error 输出错误消息
func Error(format string, args ...any) {
	color.New(color.FgRed, color.Bold).Fprintf(Out, "❌ "+format+"\n", args...)
}

// Info 输出信息
func Info(format string, args ...any) {
	color.New(color.FgCyan).Fprintf(Out, "ℹ️  "+format+"\n", args...)
}

// Warning 输出警告
func Warning(format string, args ...any) {
	color.New(color.FgYellow).Fprintf(Out, "⚠️  "+format+"\n", args...)
}
