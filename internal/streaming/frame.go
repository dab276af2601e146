// internal/streaming/frame.go
package streaming

import (
	"encoding/json"
	"strings"
)

// Line framing for generation streams. Each line is a prefixed frame:
//
//	0:"<json-encoded text delta>"
//	e:{"finishReason":"stop"}       流结束（含收尾元数据）
//	d:{"finishReason":"stop"}
//	error:{"message":"..."}         终止错误
//
// Resume streams additionally interleave bare JSON status envelopes such as
// {"status":"connected"} and {"status":"completed","results":[...]}.
// Unknown prefixes are ignorable by contract, never an error, so the
// protocol can grow without breaking old consumers.

type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameDelta
	FrameEnd
	FrameError
	FrameStatus
)

const (
	EnvelopeConnected      = "connected"
	EnvelopePartialResults = "partial_results"
	EnvelopeCompleted      = "completed"
)

// StatusEnvelope is the resume-stream control message.
type StatusEnvelope struct {
	Status  string            `json:"status"`
	Results []json.RawMessage `json:"results,omitempty"`
	Message string            `json:"message,omitempty"`
}

// Frame is one decoded line.
type Frame struct {
	Kind     FrameKind
	Delta    string
	Message  string
	Envelope *StatusEnvelope
}

type errorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// DecodeFrame classifies one line of a generation stream. Lines wrapped in
// an SSE envelope (data: prefix) are unwrapped first; SSE comments and
// field lines pass through as unknown.
func DecodeFrame(line string) Frame {
	line = strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(line, "data:") {
		line = strings.TrimLeft(strings.TrimPrefix(line, "data:"), " ")
	}

	if line == "" || line[0] == ':' {
		return Frame{Kind: FrameUnknown}
	}

	switch {
	case strings.HasPrefix(line, "0:"):
		var delta string
		if err := json.Unmarshal([]byte(line[2:]), &delta); err != nil {
			return Frame{Kind: FrameUnknown}
		}
		return Frame{Kind: FrameDelta, Delta: delta}

	case strings.HasPrefix(line, "e:"), strings.HasPrefix(line, "d:"):
		return Frame{Kind: FrameEnd}

	case strings.HasPrefix(line, "error:"):
		payload := strings.TrimSpace(line[len("error:"):])
		msg := payload
		var obj errorPayload
		if err := json.Unmarshal([]byte(payload), &obj); err == nil {
			if obj.Message != "" {
				msg = obj.Message
			} else if obj.Error != "" {
				msg = obj.Error
			}
		} else {
			var s string
			if err := json.Unmarshal([]byte(payload), &s); err == nil {
				msg = s
			}
		}
		if msg == "" {
			msg = "stream reported an error"
		}
		return Frame{Kind: FrameError, Message: msg}

	case line[0] == '{':
		var env StatusEnvelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			return Frame{Kind: FrameUnknown}
		}
		switch env.Status {
		case EnvelopeConnected, EnvelopePartialResults, EnvelopeCompleted:
			return Frame{Kind: FrameStatus, Envelope: &env}
		}
		return Frame{Kind: FrameUnknown}
	}

	return Frame{Kind: FrameUnknown}
}

// EncodeDelta frames one text delta.
func EncodeDelta(text string) string {
	b, _ := json.Marshal(text)
	return "0:" + string(b)
}

// EncodeEnd frames the end-of-stream marker.
func EncodeEnd(reason string) string {
	if reason == "" {
		reason = "stop"
	}
	b, _ := json.Marshal(map[string]string{"finishReason": reason})
	return "e:" + string(b)
}

// EncodeDone frames the final done marker sent after EncodeEnd.
func EncodeDone(reason string) string {
	if reason == "" {
		reason = "stop"
	}
	b, _ := json.Marshal(map[string]string{"finishReason": reason})
	return "d:" + string(b)
}

// EncodeError frames a terminal error.
func EncodeError(msg string) string {
	b, _ := json.Marshal(errorPayload{Message: msg})
	return "error:" + string(b)
}

// EncodeEnvelope frames a resume-stream status envelope.
func EncodeEnvelope(env StatusEnvelope) string {
	b, _ := json.Marshal(env)
	return string(b)
}
