package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"chatstream/internal/domain"
)

// maxLineSize bounds a single SSE or NDJSON line from a backend.
const maxLineSize = 1024 * 1024

// parseFunc converts one payload (an SSE data field or an NDJSON line) into a
// delta. A nil delta with nil error skips the payload.
type parseFunc func(data []byte) (*domain.StreamDelta, error)

// parseSSEStream reads "data:" lines from body and converts each payload with
// parse. The channel closes after a Done delta, an error delta, end of body,
// or ctx cancellation. A read error that is not EOF becomes a terminal Err
// delta.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parse parseFunc) <-chan domain.StreamDelta {
	return scanStream(ctx, body, func(line []byte) ([]byte, bool) {
		if len(line) == 0 || line[0] == ':' {
			return nil, false
		}
		data, ok := bytes.CutPrefix(line, []byte("data:"))
		if !ok {
			return nil, false
		}
		return bytes.TrimPrefix(data, []byte(" ")), true
	}, parse)
}

// parseNDJSONStream reads newline-delimited JSON objects from body.
func parseNDJSONStream(ctx context.Context, body io.ReadCloser, parse parseFunc) <-chan domain.StreamDelta {
	return scanStream(ctx, body, func(line []byte) ([]byte, bool) {
		line = bytes.TrimSpace(line)
		return line, len(line) > 0
	}, parse)
}

func scanStream(ctx context.Context, body io.ReadCloser, extract func([]byte) ([]byte, bool), parse parseFunc) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)

	send := func(d domain.StreamDelta) bool {
		select {
		case ch <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		defer body.Close()

		sc := bufio.NewScanner(body)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

		for sc.Scan() {
			if ctx.Err() != nil {
				return
			}
			data, ok := extract(sc.Bytes())
			if !ok {
				continue
			}
			if bytes.Equal(data, []byte("[DONE]")) {
				send(domain.StreamDelta{Done: true})
				return
			}

			delta, err := parse(data)
			if err != nil || delta == nil {
				continue
			}
			if !send(*delta) || delta.Done || delta.Err != nil {
				return
			}
		}

		if err := sc.Err(); err != nil && ctx.Err() == nil {
			send(domain.StreamDelta{Err: fmt.Errorf("read stream: %w", err)})
		}
	}()
	return ch
}
