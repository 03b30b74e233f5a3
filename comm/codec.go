package comm

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	payloadsField protowire.Number = 1
	intsField     protowire.Number = 1
)

// encodePayloads lays out a list of payloads as a repeated bytes field.
func encodePayloads(payloads [][]byte) []byte {
	var b []byte
	for _, p := range payloads {
		b = protowire.AppendTag(b, payloadsField, protowire.BytesType)
		b = protowire.AppendBytes(b, p)
	}
	return b
}

func decodePayloads(b []byte) ([][]byte, error) {
	var payloads [][]byte
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.New("decoding payload tag failed").Wrap(protowire.ParseError(n))
		}
		b = b[n:]

		if num != payloadsField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, errors.New("skipping unknown field failed").Wrap(protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, errors.New("decoding payload failed").Wrap(protowire.ParseError(n))
		}
		payloads = append(payloads, v)
		b = b[n:]
	}
	return payloads, nil
}

// EncodeInts lays out integers as a packed zigzag varint field.
func EncodeInts(values []int) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, protowire.EncodeZigZag(int64(v)))
	}

	b := protowire.AppendTag(nil, intsField, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func DecodeInts(b []byte) ([]int, error) {
	if len(b) == 0 {
		return nil, nil
	}

	num, typ, n := protowire.ConsumeTag(b)
	if n < 0 {
		return nil, errors.New("decoding ints tag failed").Wrap(protowire.ParseError(n))
	}
	if num != intsField || typ != protowire.BytesType {
		return nil, errors.New("unexpected ints field").
			WithTag("field", num).
			WithTag("type", typ)
	}

	packed, n := protowire.ConsumeBytes(b[n:])
	if n < 0 {
		return nil, errors.New("decoding packed ints failed").Wrap(protowire.ParseError(n))
	}

	var values []int
	for len(packed) > 0 {
		v, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, errors.New("decoding int failed").Wrap(protowire.ParseError(n))
		}
		values = append(values, int(protowire.DecodeZigZag(v)))
		packed = packed[n:]
	}
	return values, nil
}
