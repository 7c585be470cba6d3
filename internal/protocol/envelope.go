package protocol

import (
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldKind protowire.Number = 1
	fieldText protowire.Number = 2
)

func EncodeEnvelope(env Envelope) []byte {
	b := protowire.AppendTag(nil, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Kind))
	return appendString(b, fieldText, env.Text)
}

// DecodeEnvelope accepts only the exact layout EncodeEnvelope produces, so
// ordinary text is never mistaken for an envelope.
func DecodeEnvelope(data []byte) (Envelope, bool) {
	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 || num != fieldKind || typ != protowire.VarintType {
		return Envelope{}, false
	}
	data = data[n:]

	kind, n := protowire.ConsumeVarint(data)
	if n < 0 || (TopicKind(kind) != TopicPublic && TopicKind(kind) != TopicPrivate) {
		return Envelope{}, false
	}
	data = data[n:]

	num, typ, n = protowire.ConsumeTag(data)
	if n < 0 || num != fieldText || typ != protowire.BytesType {
		return Envelope{}, false
	}
	data = data[n:]

	text, n := protowire.ConsumeBytes(data)
	if n < 0 || n != len(data) {
		return Envelope{}, false
	}

	return Envelope{Kind: TopicKind(kind), Text: strings.ToValidUTF8(string(text), "�")}, true
}

// DecodeChatPayload turns a pub/sub payload received on topic into its kind
// and text. Payloads that are not envelopes are read as lossy UTF-8 and
// classified by topic length.
func DecodeChatPayload(topic string, data []byte) Envelope {
	if env, ok := DecodeEnvelope(data); ok {
		return env
	}
	return Envelope{
		Kind: ClassifyTopic(topic),
		Text: strings.ToValidUTF8(string(data), "�"),
	}
}
