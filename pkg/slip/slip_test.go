package slip_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robbym/nrf-dfu/pkg/slip"
)

// S1 — SLIP escape.
func TestEncode_EscapesEndAndEsc(t *testing.T) {
	var buf bytes.Buffer
	n, err := slip.Encode(&buf, []byte{0xC0, 0x01, 0xDB, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDB, 0xDC, 0x01, 0xDB, 0xDD, 0x02, 0xC0}, buf.Bytes())
	assert.Equal(t, 7, n)
}

// S2 — SLIP decode.
func TestDecode_Unescapes(t *testing.T) {
	in := bytes.NewReader([]byte{0x60, 0xDB, 0xDC, 0xAB, 0xDB, 0xDD, 0xC0})
	out, err := slip.Decode(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xC0, 0xAB, 0xDB}, out)
}

func TestDecode_RejectsUnexpectedLeadingByte(t *testing.T) {
	in := bytes.NewReader([]byte{0x00, 0x01, 0xC0})
	_, err := slip.Decode(in)
	require.Error(t, err)
	var framingErr *slip.FramingError
	require.True(t, errors.As(err, &framingErr))
	assert.Equal(t, byte(0x00), framingErr.Got)
}

func TestDecode_ShortReadPropagates(t *testing.T) {
	in := bytes.NewReader([]byte{0x60, 0x01})
	_, err := slip.Decode(in)
	require.Error(t, err)
}

// Property 1: round trip for arbitrary payloads.
func TestRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0xC0, 0xC0, 0xC0},
		{0xDB, 0xDB, 0xDB},
		{0x01, 0x02, 0x03, 0xC0, 0xDB, 0x04, 0x05},
		bytes.Repeat([]byte{0xC0, 0xDB, 0x7E}, 64),
	}

	for _, want := range cases {
		var buf bytes.Buffer
		_, err := slip.Encode(&buf, want)
		require.NoError(t, err)

		framed := append([]byte{0x60}, buf.Bytes()...)
		got, err := slip.Decode(bytes.NewReader(framed))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// Property 2: stuffing coverage — no unescaped 0xC0 except the terminator,
// no unescaped 0xDB.
func TestEncode_StuffingCoverage(t *testing.T) {
	payload := []byte{0xC0, 0xDB, 0x01, 0xC0, 0xDB, 0xDB, 0xC0}
	var buf bytes.Buffer
	_, err := slip.Encode(&buf, payload)
	require.NoError(t, err)

	out := buf.Bytes()
	require.NotEmpty(t, out)
	assert.Equal(t, byte(0xC0), out[len(out)-1])

	body := out[:len(out)-1]
	for i := 0; i < len(body); i++ {
		if body[i] == 0xC0 {
			t.Fatalf("unescaped 0xC0 at index %d", i)
		}
		if body[i] == 0xDB {
			require.Less(t, i+1, len(body), "dangling escape at end of body")
			next := body[i+1]
			assert.True(t, next == 0xDC || next == 0xDD, "escape not followed by ESC_END/ESC_ESC at %d", i)
			i++
		}
	}
}
