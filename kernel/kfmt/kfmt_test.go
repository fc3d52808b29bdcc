package kfmt

import (
	"bytes"
	"testing"
)

func TestEarlyBufferFlush(t *testing.T) {
	defer SetOutputSink(nil)

	SetOutputSink(nil)
	earlyPrintBuffer.rIndex = 0
	earlyPrintBuffer.wIndex = 0

	Printf("booting %s\n", "kernel")
	Writer().Write([]byte("[mem] regions ready\n"))

	if GetOutputSink() != nil {
		t.Fatal("expected no sink to be attached")
	}

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if exp, got := "booting kernel\n[mem] regions ready\n", buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}

	if GetOutputSink() != &buf {
		t.Fatal("expected GetOutputSink to return the attached sink")
	}

	// Once attached, output goes straight to the sink
	buf.Reset()
	Printf("pid=%d\n", 3)
	if exp, got := "pid=3\n", buf.String(); got != exp {
		t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
	}

	if earlyPrintBuffer.Len() != 0 {
		t.Fatalf("expected early buffer to be empty; got %d bytes", earlyPrintBuffer.Len())
	}
}
