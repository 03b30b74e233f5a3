package websocket

import (
	"testing"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestFrameMarshal(t *testing.T) {
	f := Frame{
		Src:     3,
		Dst:     12,
		Key:     "w/g[0,2]#1|ag4",
		Payload: []byte{1, 2, 3},
	}

	decoded, err := UnmarshalFrame(f.Marshal())
	require.NoError(t, err)
	require.Equal(t, f, decoded)

	empty := Frame{Key: "w|b1"}
	decoded, err = UnmarshalFrame(empty.Marshal())
	require.NoError(t, err)
	require.Equal(t, "w|b1", decoded.Key)
	require.Empty(t, decoded.Payload)
}

func TestFrameUnmarshalSkipsUnknownFields(t *testing.T) {
	b := Frame{Src: 1, Key: "w|t0"}.Marshal()
	b = protowire.AppendTag(b, 42, protowire.BytesType)
	b = protowire.AppendString(b, "ignored")

	f, err := UnmarshalFrame(b)
	require.NoError(t, err)
	require.Equal(t, 1, f.Src)
	require.Equal(t, "w|t0", f.Key)
}

func TestFrameUnmarshalErrors(t *testing.T) {
	tests := []struct {
		scenario string
		in       []byte
	}{
		{
			scenario: "no key",
			in:       Frame{Src: 1, Dst: 2}.Marshal(),
		},
		{
			scenario: "truncated",
			in:       Frame{Key: "w|t0", Payload: []byte("abc")}.Marshal()[:6],
		},
		{
			scenario: "invalid tag",
			in:       []byte{0xff},
		},
	}

	for _, test := range tests {
		t.Run(test.scenario, func(t *testing.T) {
			_, err := UnmarshalFrame(test.in)
			require.Error(t, err)
			require.Equal(t, ErrTypeInvalidFrame, errors.Type(err))
		})
	}
}

func TestFrameKind(t *testing.T) {
	tests := []struct {
		key  string
		kind string
	}{
		{key: "w|t7", kind: "t"},
		{key: "w|b1", kind: "b"},
		{key: "w/g[0,1]#2|ag12", kind: "ag"},
		{key: "w|bc3", kind: "bc"},
		{key: "w|nx9", kind: "nx"},
		{key: "", kind: "unknown"},
		{key: "w|", kind: "unknown"},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			require.Equal(t, test.kind, Frame{Key: test.key}.Kind())
		})
	}
}
