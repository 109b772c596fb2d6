// Package stream re-emits an upstream token stream as normalized SSE frames.
// The upstream may answer with proper SSE framing, or with a single JSON
// document on a 2xx status when something went wrong mid-flight; both paths
// funnel into the same normalized output shape.
package stream

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"

	// SSE lines carry whole JSON frames, which can be large for long deltas.
	scannerBufferSize = 1024 * 1024
)

// Transformer consumes open upstream responses and writes normalized SSE
// streams to the caller. It takes sole ownership of each response it is
// handed and closes it on every exit path.
type Transformer struct {
	logger *slog.Logger
}

func NewTransformer(logger *slog.Logger) *Transformer {
	return &Transformer{
		logger: logger,
	}
}

// Pipe re-streams the upstream response to w. Error statuses become a single
// JSON error response at the upstream's status code; everything else becomes
// a normalized SSE stream terminated by the [DONE] sentinel.
func (t *Transformer) Pipe(w http.ResponseWriter, resp *http.Response) {
	defer resp.Body.Close()

	bodyReader, err := t.decompressReader(resp)
	if err != nil {
		WriteErrorf(w, t.logger, http.StatusBadGateway, "decompression error: %v", err)

		return
	}

	if closer, ok := bodyReader.(io.Closer); ok {
		defer closer.Close()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		raw, err := io.ReadAll(bodyReader)
		if err != nil {
			t.logger.Error("Failed to read upstream error body", "error", err, "status", resp.StatusCode)
		}

		WriteError(w, t.logger, resp.StatusCode, NormalizeError(raw))

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	t.drain(w, bodyReader)
}

// drain is the streaming loop. Two states: once any "data:" line is seen we
// are streaming SSE; until then non-SSE lines accumulate in a side buffer,
// parsed once at EOF in case the upstream returned a bare JSON document on a
// 2xx status.
func (t *Transformer) drain(w http.ResponseWriter, body io.Reader) {
	var (
		sawSSE    bool
		fallback  bytes.Buffer
		lastUsage json.RawMessage
	)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), scannerBufferSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, dataPrefix) {
			if !sawSSE {
				fallback.WriteString(line)
			}

			continue
		}

		sawSSE = true

		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == "" {
			continue
		}

		if payload == doneSentinel {
			break
		}

		if !gjson.Valid(payload) {
			// One malformed frame never aborts an otherwise healthy stream.
			continue
		}

		if usage := gjson.Get(payload, "usage"); usage.IsObject() {
			lastUsage = json.RawMessage(usage.Raw)
		}

		if delta := ExtractDelta(payload); delta != "" {
			if err := t.emit(w, delta, nil); err != nil {
				t.logger.Debug("Client disconnected mid-stream", "error", err)

				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		t.logger.Error("Upstream stream read error", "error", err)
	}

	if !sawSSE && fallback.Len() > 0 {
		t.emitFallback(w, fallback.String(), &lastUsage)
	}

	if lastUsage != nil {
		if err := t.emit(w, "", lastUsage); err != nil {
			return
		}
	}

	// The sentinel goes out unconditionally so the caller never hangs
	// waiting for completion.
	if _, err := fmt.Fprint(w, "data: [DONE]\n\n"); err == nil {
		t.flush(w)
	}
}

// emitFallback applies the delta extraction once to the accumulated non-SSE
// body, producing at most one frame.
func (t *Transformer) emitFallback(w http.ResponseWriter, body string, lastUsage *json.RawMessage) {
	if !gjson.Valid(body) {
		t.logger.Warn("Upstream returned non-SSE, non-JSON body", "length", len(body))

		return
	}

	if usage := gjson.Get(body, "usage"); usage.IsObject() {
		*lastUsage = json.RawMessage(usage.Raw)
	}

	if delta := ExtractDelta(body); delta != "" {
		_ = t.emit(w, delta, nil)
	}
}

// emit writes one normalized SSE frame and flushes it.
func (t *Transformer) emit(w http.ResponseWriter, delta string, usage json.RawMessage) error {
	frame := map[string]any{
		"choices": []any{
			map[string]any{
				"delta": map[string]any{
					"content": delta,
				},
			},
		},
	}

	if usage != nil {
		frame["usage"] = usage
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}

	t.flush(w)

	return nil
}

func (t *Transformer) flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (t *Transformer) decompressReader(resp *http.Response) (io.Reader, error) {
	var bodyReader io.Reader = resp.Body

	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		bodyReader = gzipReader
	case "br":
		bodyReader = brotli.NewReader(resp.Body)
	}

	return bodyReader, nil
}
