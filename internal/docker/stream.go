package docker

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strings"
)

// DemuxStream flattens a container log stream into plain text lines.
// Without a TTY Docker prefixes each chunk with an 8-byte multiplex
// header; with a TTY the stream is raw. Both shapes are handled.
func DemuxStream(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var lines []string
	var buf bytes.Buffer
	for {
		header, err := br.Peek(8)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				if plainErr := readPlain(br, &buf); plainErr != nil {
					return nil, plainErr
				}
				return append(lines, splitLines(buf.String())...), nil
			}
			return nil, err
		}
		if !isMultiplexHeader(header) {
			if err := readPlain(br, &buf); err != nil {
				return nil, err
			}
			return append(lines, splitLines(buf.String())...), nil
		}
		_, _ = br.Discard(8)
		size := binary.BigEndian.Uint32(header[4:])
		if size == 0 {
			continue
		}
		payload := make([]byte, int(size))
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, err
		}
		buf.Write(payload)
	}
}

func isMultiplexHeader(header []byte) bool {
	if len(header) < 8 {
		return false
	}
	if header[0] != 1 && header[0] != 2 {
		return false
	}
	return header[1] == 0 && header[2] == 0 && header[3] == 0
}

func readPlain(br *bufio.Reader, buf *bytes.Buffer) error {
	_, err := buf.ReadFrom(br)
	return err
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
