package docker

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func muxFrame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemuxMultiplexedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(muxFrame(1, "line one\n"))
	buf.Write(muxFrame(2, "line two\n"))
	buf.Write(muxFrame(1, "line three\n"))

	lines, err := DemuxStream(&buf)
	if err != nil {
		t.Fatalf("DemuxStream: %v", err)
	}
	want := []string{"line one", "line two", "line three"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %v", len(lines), len(want), lines)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
}

func TestDemuxPlainStream(t *testing.T) {
	lines, err := DemuxStream(strings.NewReader("tty output\nsecond line\n"))
	if err != nil {
		t.Fatalf("DemuxStream: %v", err)
	}
	if len(lines) != 2 || lines[0] != "tty output" || lines[1] != "second line" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestDemuxSkipsBlankLines(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(muxFrame(1, "before\n\n\nafter\n"))

	lines, err := DemuxStream(&buf)
	if err != nil {
		t.Fatalf("DemuxStream: %v", err)
	}
	if len(lines) != 2 || lines[0] != "before" || lines[1] != "after" {
		t.Errorf("unexpected lines: %v", lines)
	}
}
