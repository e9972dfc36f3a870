package gateway

import (
	"context"
	"unicode/utf8"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const readLimit = 32768

// writeChunkLimit bounds the text carried by a single message. The bound is conservative, since JSON escaping can
// expand a byte to six.
const writeChunkLimit = readLimit / 8

// writeMessage sends msg, splitting its text over several messages if the encoded form could exceed the peer's read
// limit.
func writeMessage(ctx context.Context, conn *websocket.Conn, msg Message) error {
	for _, m := range splitMessage(msg) {
		if err := wsjson.Write(ctx, conn, &m); err != nil {
			return err
		}
	}
	return nil
}

// splitMessage cuts msg into frames that each fit the read limit. Frames of one event share its Seq and are numbered
// by Part.
func splitMessage(msg Message) []Message {
	chunks := splitText(msg.Text, writeChunkLimit)
	msgs := make([]Message, 0, len(chunks))
	for i, chunk := range chunks {
		m := msg
		m.Text = chunk
		m.Part = i
		msgs = append(msgs, m)
	}
	return msgs
}

// splitText cuts s into pieces of at most limit bytes without splitting a rune.
func splitText(s string, limit int) []string {
	if len(s) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(s) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}
