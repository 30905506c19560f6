package provider

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

var doneMarker = []byte("[DONE]")

const maxEventSize = 4 << 20

// sseReader yields the data payload of each server-sent event.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the joined data lines of the next event, or io.EOF.
func (s *sseReader) Next() ([]byte, error) {
	var data []byte
	hasData := false
	for {
		line, err := s.r.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimRight(line, "\r\n")
			switch {
			case len(line) == 0:
				if hasData {
					return data, nil
				}
			case line[0] == ':':
			default:
				if payload, ok := bytes.CutPrefix(line, []byte("data:")); ok {
					payload = bytes.TrimPrefix(payload, []byte(" "))
					if hasData {
						data = append(data, '\n')
					}
					data = append(data, payload...)
					hasData = true
					if len(data) > maxEventSize {
						return nil, errors.New("provider: stream event too large")
					}
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && hasData {
				return data, nil
			}
			return nil, err
		}
	}
}
