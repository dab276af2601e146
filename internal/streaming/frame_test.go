package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	cases := []struct {
		name string
		line string
		want Frame
	}{
		{
			name: "text delta",
			line: `0:"hello "`,
			want: Frame{Kind: FrameDelta, Delta: "hello "},
		},
		{
			name: "delta with escapes",
			line: `0:"line\nbreak"`,
			want: Frame{Kind: FrameDelta, Delta: "line\nbreak"},
		},
		{
			name: "delta payload not a json string",
			line: `0:{"oops":1}`,
			want: Frame{Kind: FrameUnknown},
		},
		{
			name: "end marker",
			line: `e:{"finishReason":"stop"}`,
			want: Frame{Kind: FrameEnd},
		},
		{
			name: "done marker",
			line: `d:{"finishReason":"stop"}`,
			want: Frame{Kind: FrameEnd},
		},
		{
			name: "error with message object",
			line: `error:{"message":"quota exceeded"}`,
			want: Frame{Kind: FrameError, Message: "quota exceeded"},
		},
		{
			name: "error with bare string",
			line: `error:"boom"`,
			want: Frame{Kind: FrameError, Message: "boom"},
		},
		{
			name: "unknown prefix is ignorable",
			line: `7:{"some":"future frame"}`,
			want: Frame{Kind: FrameUnknown},
		},
		{
			name: "sse wrapped delta",
			line: `data: 0:"chunk"`,
			want: Frame{Kind: FrameDelta, Delta: "chunk"},
		},
		{
			name: "sse comment",
			line: `:heartbeat`,
			want: Frame{Kind: FrameUnknown},
		},
		{
			name: "empty line",
			line: "",
			want: Frame{Kind: FrameUnknown},
		},
		{
			name: "crlf trimmed",
			line: "0:\"x\"\r",
			want: Frame{Kind: FrameDelta, Delta: "x"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecodeFrame(tc.line)
			require.Equal(t, tc.want.Kind, got.Kind)
			require.Equal(t, tc.want.Delta, got.Delta)
			require.Equal(t, tc.want.Message, got.Message)
		})
	}
}

func TestDecodeFrameEnvelopes(t *testing.T) {
	got := DecodeFrame(`{"status":"connected"}`)
	require.Equal(t, FrameStatus, got.Kind)
	require.Equal(t, EnvelopeConnected, got.Envelope.Status)

	got = DecodeFrame(`{"status":"completed","results":[{"episodeNumber":1,"title":"Pilot"}]}`)
	require.Equal(t, FrameStatus, got.Kind)
	require.Equal(t, EnvelopeCompleted, got.Envelope.Status)
	require.Len(t, got.Envelope.Results, 1)

	got = DecodeFrame(`{"status":"weird"}`)
	require.Equal(t, FrameUnknown, got.Kind)

	got = DecodeFrame(`{"not":"an envelope"}`)
	require.Equal(t, FrameUnknown, got.Kind)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frames := []string{
		EncodeDelta(`{"title":"Ep`),
		EncodeEnd(""),
		EncodeDone("length"),
		EncodeError("boom"),
		EncodeEnvelope(StatusEnvelope{Status: EnvelopePartialResults}),
	}

	kinds := []FrameKind{FrameDelta, FrameEnd, FrameEnd, FrameError, FrameStatus}
	for i, line := range frames {
		require.Equal(t, kinds[i], DecodeFrame(line).Kind, "frame %d: %s", i, line)
	}

	require.Equal(t, `{"title":"Ep`, DecodeFrame(frames[0]).Delta)
}
