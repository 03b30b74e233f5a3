package storage

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"google.golang.org/protobuf/encoding/protowire"
)

// Codec serializes grid elements for transfers between processes.
type Codec[T any] interface {
	// Returns the codec name, used as a metric label.
	Name() string

	// Appends the encoded values to buf.
	Append(buf []byte, values []T) []byte

	// Decodes exactly n values from buf.
	Decode(buf []byte, n int) ([]T, error)
}

// Int64Codec encodes integers as zigzag varints.
type Int64Codec struct{}

func (Int64Codec) Name() string {
	return "int64"
}

func (Int64Codec) Append(buf []byte, values []int64) []byte {
	for _, v := range values {
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(v))
	}
	return buf
}

func (Int64Codec) Decode(buf []byte, n int) ([]int64, error) {
	values := make([]int64, n)
	for i := range values {
		v, m := protowire.ConsumeVarint(buf)
		if m < 0 {
			return nil, errors.New("decoding int64 element failed").
				WithTag("index", i).
				Wrap(protowire.ParseError(m))
		}
		values[i] = protowire.DecodeZigZag(v)
		buf = buf[m:]
	}

	if len(buf) != 0 {
		return nil, errors.New("trailing bytes after int64 elements").
			WithTag("count", n).
			WithTag("trailing", len(buf))
	}
	return values, nil
}

// Float64Codec encodes floats as little-endian fixed 64 bits words.
type Float64Codec struct{}

func (Float64Codec) Name() string {
	return "float64"
}

func (Float64Codec) Append(buf []byte, values []float64) []byte {
	for _, v := range values {
		buf = protowire.AppendFixed64(buf, math.Float64bits(v))
	}
	return buf
}

func (Float64Codec) Decode(buf []byte, n int) ([]float64, error) {
	if len(buf) != n*8 {
		return nil, errors.New("unexpected float64 buffer size").
			WithTag("count", n).
			WithTag("size", len(buf))
	}

	values := make([]float64, n)
	for i := range values {
		v, m := protowire.ConsumeFixed64(buf)
		if m < 0 {
			return nil, errors.New("decoding float64 element failed").
				WithTag("index", i).
				Wrap(protowire.ParseError(m))
		}
		values[i] = math.Float64frombits(v)
		buf = buf[m:]
	}
	return values, nil
}

// JSONCodec encodes any element type as a JSON array.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Name() string {
	return "json"
}

func (JSONCodec[T]) Append(buf []byte, values []T) []byte {
	b, err := json.Marshal(values)
	if err != nil {
		// Marshal only fails on unsupported types such as channels, which
		// are not valid grid elements.
		panic(errors.New("encoding json elements failed").Wrap(err))
	}
	return append(buf, b...)
}

func (JSONCodec[T]) Decode(buf []byte, n int) ([]T, error) {
	var values []T
	if err := json.Unmarshal(buf, &values); err != nil {
		return nil, errors.New("decoding json elements failed").Wrap(err)
	}

	if len(values) != n {
		return nil, errors.New("unexpected number of json elements").
			WithTag("expected", n).
			WithTag("got", len(values))
	}
	return values, nil
}
