package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrStopStream may be returned by a ReadStream callback to stop reading.
var ErrStopStream = errors.New("stop stream")

// ReadStream decodes server-sent job events from r and calls fn for each
// message. Comment frames are skipped. It returns nil at EOF or when fn
// returns ErrStopStream.
func ReadStream(r io.Reader, fn func(StreamMessage) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var msg StreamMessage
			if err := json.Unmarshal([]byte(data.String()), &msg); err != nil {
				return fmt.Errorf("decode stream message: %w", err)
			}
			data.Reset()
			if err := fn(msg); err != nil {
				if errors.Is(err, ErrStopStream) {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
