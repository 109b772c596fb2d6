package stream

import (
	"strings"

	"github.com/tidwall/gjson"
)

// deltaPaths are the places a text delta can live across the upstream's
// response shapes, in priority order. The first present path wins even when
// its value is empty, so a frame like {"choices":[{"delta":{}}]} yields no
// text rather than falling through to a lower-priority shape.
var deltaPaths = []string{
	"choices.0.delta.content",
	"choices.0.message.content",
	"output_text",
	"delta.text",
}

// ExtractDelta pulls the text delta out of one parsed upstream frame.
// Returns "" when the frame carries no text.
func ExtractDelta(data string) string {
	for _, path := range deltaPaths {
		if v := gjson.Get(data, path); v.Exists() {
			return contentText(v)
		}
	}

	if gjson.Get(data, "content_block.type").Str == "text" {
		return gjson.Get(data, "content_block.text").Str
	}

	return ""
}

// contentText flattens a content value: either a plain string or a sequence
// of parts, each contributing its "text" field or its own string form.
func contentText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}

	if v.IsArray() {
		var b strings.Builder

		v.ForEach(func(_, part gjson.Result) bool {
			if text := part.Get("text"); text.Type == gjson.String {
				b.WriteString(text.Str)
			} else if part.Type == gjson.String {
				b.WriteString(part.Str)
			}

			return true
		})

		return b.String()
	}

	return ""
}
