// Package kfmt owns the kernel console output path. Until a console driver
// attaches an output sink, everything written through the package is kept in
// an early ring buffer and replayed to the sink once it becomes available.
package kfmt

import (
	"fmt"
	"io"
)

var (
	// earlyPrintBuffer stores output produced before the console is
	// attached.
	earlyPrintBuffer ringBuffer

	// outputSink is the io.Writer where console output is sent. If set to
	// nil, output is redirected to the earlyPrintBuffer.
	outputSink io.Writer

	consoleWriter io.Writer = sinkWriter{}
)

// sinkWriter forwards writes to whatever sink is active at the time of the
// write, so it can be handed out before the console is attached.
type sinkWriter struct{}

func (sinkWriter) Write(p []byte) (int, error) {
	if outputSink == nil {
		return earlyPrintBuffer.Write(p)
	}

	return outputSink.Write(p)
}

// SetOutputSink sets the target for console output to w and copies any data
// accumulated in the early buffer to it. Passing nil detaches the current
// sink.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		io.Copy(w, &earlyPrintBuffer)
	}
}

// GetOutputSink returns the currently attached output sink or nil if output
// is being buffered.
func GetOutputSink() io.Writer {
	return outputSink
}

// Writer returns an io.Writer for the kernel console. It can be obtained
// before a sink is attached; data written to it is buffered until then.
func Writer() io.Writer {
	return consoleWriter
}

// Printf formats according to the format specifier and writes to the kernel
// console.
func Printf(format string, args ...interface{}) {
	Fprintf(consoleWriter, format, args...)
}

// Fprintf formats according to the format specifier and writes to w.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, format, args...)
}
