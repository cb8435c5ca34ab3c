package ai

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const maxLineSize = 1 << 20

// emitter forwards fragments to the caller until ctx is cancelled.
type emitter struct {
	ctx      context.Context
	out      chan<- string
	provider ProviderKind
	failed   bool
}

// send delivers s and reports whether the consumer is still listening.
func (e *emitter) send(s string) bool {
	if s == "" {
		return e.ctx.Err() == nil
	}
	select {
	case e.out <- s:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// fail emits the error fragment once. Nothing is sent after cancellation.
func (e *emitter) fail(err error) {
	if e.failed || e.ctx.Err() != nil {
		return
	}
	e.failed = true
	e.send(ErrorFragment(e.provider, err))
}

// startStream runs produce in a goroutine and returns its fragment channel.
func startStream(ctx context.Context, provider ProviderKind, produce func(e *emitter)) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		e := &emitter{ctx: ctx, out: out, provider: provider}
		defer func() {
			if r := recover(); r != nil {
				e.fail(fmt.Errorf("internal error: %v", r))
			}
		}()
		produce(e)
	}()
	return out
}

// readSSE parses a server-sent-event stream, calling fn for every event with
// a data payload. Returning an error from fn stops reading.
func readSSE(r io.Reader, fn func(event, data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var event string
	var data strings.Builder
	dispatch := func() error {
		if data.Len() == 0 {
			event = ""
			return nil
		}
		payload := data.String()
		ev := event
		data.Reset()
		event = ""
		return fn(ev, payload)
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			if err := dispatch(); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return dispatch()
}

// readLines calls fn for every non-empty line of r.
func readLines(r io.Reader, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// dataURL prefixes raw base64 image data with a JPEG data URL header.
func dataURL(image string) string {
	if strings.HasPrefix(image, "data:") {
		return image
	}
	return "data:image/jpeg;base64," + image
}

// splitDataURL returns the media type and raw base64 data of an image.
func splitDataURL(image string) (mediaType, data string) {
	if !strings.HasPrefix(image, "data:") {
		return "image/jpeg", image
	}
	header, payload, ok := strings.Cut(strings.TrimPrefix(image, "data:"), ",")
	if !ok {
		return "image/jpeg", image
	}
	mediaType, _, _ = strings.Cut(header, ";")
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return mediaType, payload
}

// errStreamDone stops line reading once a provider signals completion.
var errStreamDone = errors.New("stream done")
