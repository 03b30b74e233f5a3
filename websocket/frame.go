package websocket

import (
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	ErrTypeInvalidFrame = "invalid_frame"
)

const (
	srcField     protowire.Number = 1
	dstField     protowire.Number = 2
	keyField     protowire.Number = 3
	payloadField protowire.Number = 4
)

// Frame is a payload addressed from one rank of a job to another.
type Frame struct {
	Src     int
	Dst     int
	Key     string
	Payload []byte
}

// Kind returns the operation part of the frame key, without its sequence
// number. For example "ag" for an all-gather or "t" for a tagged message.
func (f Frame) Kind() string {
	op := f.Key[strings.LastIndex(f.Key, "|")+1:]
	op = strings.TrimRight(op, "0123456789")
	if op == "" {
		return "unknown"
	}
	return op
}

func (f Frame) Marshal() []byte {
	b := make([]byte, 0, len(f.Key)+len(f.Payload)+16)
	b = protowire.AppendTag(b, srcField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Src))
	b = protowire.AppendTag(b, dstField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Dst))
	b = protowire.AppendTag(b, keyField, protowire.BytesType)
	b = protowire.AppendString(b, f.Key)
	b = protowire.AppendTag(b, payloadField, protowire.BytesType)
	b = protowire.AppendBytes(b, f.Payload)
	return b
}

// UnmarshalFrame decodes a frame. Unknown fields are skipped.
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, errors.New("decoding frame tag failed").
				WithType(ErrTypeInvalidFrame).
				Wrap(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == srcField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			n = m
			f.Src = int(v)

		case num == dstField && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			n = m
			f.Dst = int(v)

		case num == keyField && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			n = m
			f.Key = v

		case num == payloadField && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			n = m
			f.Payload = append([]byte(nil), v...)

		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}

		if n < 0 {
			return Frame{}, errors.New("decoding frame field failed").
				WithType(ErrTypeInvalidFrame).
				WithTag("field", num).
				Wrap(protowire.ParseError(n))
		}
		b = b[n:]
	}

	if f.Key == "" {
		return Frame{}, errors.New("frame has no key").
			WithType(ErrTypeInvalidFrame).
			WithTag("src", f.Src).
			WithTag("dst", f.Dst)
	}
	return f, nil
}
