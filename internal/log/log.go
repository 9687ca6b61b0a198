// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package log prints colored console messages and adapts connection
// traces to them.
package log

import (
	"io"
	"os"

	"code.hybscloud.com/tcpsync"
	"github.com/fatih/color"
)

var (
	red   = color.New(color.FgRed).FprintfFunc()
	blue  = color.New(color.FgBlue).FprintfFunc()
	faint = color.New(color.Faint).FprintfFunc()
)

// Output receives every message. Tests may redirect it.
var Output io.Writer = os.Stderr

// ErrorMsg prints an error message in red.
func ErrorMsg(format string, a ...any) {
	red(Output, "[!] Error: "+format, a...)
}

// InfoMsg prints an informational message in blue.
func InfoMsg(format string, a ...any) {
	blue(Output, "[+] "+format, a...)
}

// DebugMsg prints a dimmed debug message.
func DebugMsg(format string, a ...any) {
	faint(Output, "[.] "+format, a...)
}

// Tracer returns a connection tracer printing through DebugMsg, or nil
// when verbose is off so the connection skips formatting entirely.
func Tracer(verbose bool) tcpsync.Tracer {
	if !verbose {
		return nil
	}
	return func(format string, args ...any) {
		DebugMsg(format+"\n", args...)
	}
}
