package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/libp2p/go-msgio"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldType protowire.Number = 1
	fieldName protowire.Number = 2
	fieldData protowire.Number = 3
)

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrMalformed      = errors.New("malformed message")
	ErrFrameTooLarge  = errors.New("frame exceeds maximum size")
)

// Codec frames file-exchange messages as varint-length-prefixed protobuf
// wire bodies.
type Codec struct {
	maxSize int
}

func NewCodec() *Codec {
	return &Codec{maxSize: MaxFrameSize}
}

func (c *Codec) Encode(w io.Writer, msg Message) error {
	body, err := c.EncodeToBytes(msg)
	if err != nil {
		return err
	}
	if len(body) > c.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, len(body), c.maxSize)
	}
	return msgio.NewVarintWriter(w).WriteMsg(body)
}

func (c *Codec) Decode(r io.Reader) (Message, error) {
	reader := msgio.NewVarintReaderSize(r, c.maxSize)
	body, err := reader.ReadMsg()
	if err != nil {
		return nil, err
	}
	defer reader.ReleaseMsg(body)
	return c.DecodeFromBytes(body)
}

func (c *Codec) EncodeToBytes(msg Message) ([]byte, error) {
	b := protowire.AppendTag(nil, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type()))

	switch m := msg.(type) {
	case *FileRequest:
		b = appendString(b, fieldName, m.Name)
	case FileRequest:
		b = appendString(b, fieldName, m.Name)
	case *FileResponse:
		b = appendString(b, fieldName, m.Name)
		b = appendBytes(b, fieldData, m.Data)
	case FileResponse:
		b = appendString(b, fieldName, m.Name)
		b = appendBytes(b, fieldData, m.Data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Type())
	}
	return b, nil
}

// DecodeFromBytes parses a frame body. The returned slices do not alias data.
func (c *Codec) DecodeFromBytes(data []byte) (Message, error) {
	var (
		msgType MessageType
		name    string
		payload []byte
		seen    bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			msgType = MessageType(v)
			seen = true
			data = data[n:]
		case num == fieldName && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			name = string(v)
			data = data[n:]
		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			payload = bytes.Clone(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if !seen {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch msgType {
	case MsgFileRequest:
		return &FileRequest{Name: name}, nil
	case MsgFileResponse:
		if payload == nil {
			payload = []byte{}
		}
		return &FileResponse{Name: name, Data: payload}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownMessage, uint16(msgType))
	}
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}
