package observer

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/hireproctor/interview-server-go/internal/sse"
)

const maxEventLine = 1 << 20

// Stream reads server-sent events.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newStream(body io.ReadCloser) *Stream {
	s := bufio.NewScanner(body)
	s.Buffer(make([]byte, 0, 4096), maxEventLine)
	return &Stream{body: body, scanner: s}
}

// Next blocks until the next event. Comments such as heartbeats are skipped.
// It returns io.EOF when the server closes the stream.
func (s *Stream) Next() (sse.Event, error) {
	var (
		eventType string
		data      []string
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				eventType = ""
				continue
			}
			if eventType == "" {
				eventType = "message"
			}
			return sse.Event{Type: eventType, Data: json.RawMessage(strings.Join(data, "\n"))}, nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return sse.Event{}, err
	}
	return sse.Event{}, io.EOF
}

func (s *Stream) Close() error {
	return s.body.Close()
}
