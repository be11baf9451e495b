package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/sablekv/sable/lib/ds/buffer"
)

// frameBody strips the length header AppendRequest wrote and checks it
func frameBody(t *testing.T, out *buffer.Buffer) []byte {
	t.Helper()
	data := out.Data()
	if len(data) < HeaderSize {
		t.Fatal("frame shorter than its header")
	}
	l := binary.LittleEndian.Uint32(data)
	if int(l) != len(data)-HeaderSize {
		t.Fatalf("header says %d bytes, body has %d", l, len(data)-HeaderSize)
	}
	return data[HeaderSize:]
}

// TestRequestRoundTrip tests that framed requests parse back to the same
// command vector
func TestRequestRoundTrip(t *testing.T) {
	cases := [][][]byte{
		{[]byte("keys")},
		{[]byte("get"), []byte("k1")},
		{[]byte("set"), []byte("k"), []byte("")},
		{[]byte("zadd"), []byte("z"), []byte("1.5"), []byte{0xff, 0x00, 0x01}},
	}
	for _, cmd := range cases {
		out := buffer.New(64)
		AppendRequest(out, cmd)

		parsed, err := ParseRequest(frameBody(t, out))
		if err != nil {
			t.Fatalf("parse failed: %v", err)
		}
		if len(parsed) != len(cmd) {
			t.Fatalf("parsed %d strings, want %d", len(parsed), len(cmd))
		}
		for i := range cmd {
			if !bytes.Equal(parsed[i], cmd[i]) {
				t.Fatalf("string %d: got %q, want %q", i, parsed[i], cmd[i])
			}
		}
	}
}

// TestParseRequestErrors tests the rejection paths
func TestParseRequestErrors(t *testing.T) {
	u32 := func(v uint32) []byte {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		return b[:]
	}

	cases := map[string][]byte{
		"empty body":        {},
		"truncated nstr":    {1, 2},
		"missing string":    u32(1),
		"truncated length":  append(u32(1), 1, 2),
		"short string body": append(append(u32(1), u32(5)...), 'a', 'b'),
		"trailing garbage":  append(append(append(u32(1), u32(1)...), 'a'), 'x'),
		"too many strings":  u32(MaxArgs + 1),
	}
	for name, body := range cases {
		if _, err := ParseRequest(body); !errors.Is(err, ErrProtocol) {
			t.Errorf("%s: expected protocol error, got %v", name, err)
		}
	}
}

// TestValueRoundTrip tests serialize-then-parse for every tag
func TestValueRoundTrip(t *testing.T) {
	out := buffer.New(64)
	ctx := BeginResponse(out)

	actx := BeginArr(out)
	OutNil(out)
	OutStr(out, []byte("hello"))
	OutInt(out, -42)
	OutDbl(out, 2.5)
	OutErr(out, ErrBadTyp, "expect zset")
	inner := BeginArr(out)
	OutStr(out, []byte("x"))
	OutDbl(out, math.Inf(1))
	EndArr(out, inner, 2)
	EndArr(out, actx, 6)
	EndResponse(out, ctx)

	body := frameBody(t, out)
	v, used, err := ParseValue(body)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if used != len(body) {
		t.Fatalf("parse consumed %d of %d bytes", used, len(body))
	}
	if v.Tag != TagArr || len(v.Arr) != 6 {
		t.Fatalf("expected 6-element array, got tag=%d len=%d", v.Tag, len(v.Arr))
	}
	if v.Arr[0].Tag != TagNil {
		t.Error("element 0 should be nil")
	}
	if string(v.Arr[1].Str) != "hello" {
		t.Errorf("element 1 = %q", v.Arr[1].Str)
	}
	if v.Arr[2].Int != -42 {
		t.Errorf("element 2 = %d", v.Arr[2].Int)
	}
	if v.Arr[3].Dbl != 2.5 {
		t.Errorf("element 3 = %v", v.Arr[3].Dbl)
	}
	if v.Arr[4].ErrCode != ErrBadTyp || v.Arr[4].ErrMsg != "expect zset" {
		t.Errorf("element 4 = %d %q", v.Arr[4].ErrCode, v.Arr[4].ErrMsg)
	}
	if len(v.Arr[5].Arr) != 2 || !math.IsInf(v.Arr[5].Arr[1].Dbl, 1) {
		t.Error("nested array did not round-trip")
	}
}

// TestBackPatchedArray tests BeginArr/EndArr with a count unknown upfront
func TestBackPatchedArray(t *testing.T) {
	out := buffer.New(16)
	ctx := BeginResponse(out)
	actx := BeginArr(out)
	n := uint32(0)
	for i := 0; i < 7; i++ {
		OutInt(out, int64(i))
		n++
	}
	EndArr(out, actx, n)
	EndResponse(out, ctx)

	v, _, err := ParseValue(frameBody(t, out))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(v.Arr) != 7 {
		t.Fatalf("array has %d elements, want 7", len(v.Arr))
	}
	for i, e := range v.Arr {
		if e.Int != int64(i) {
			t.Errorf("element %d = %d", i, e.Int)
		}
	}
}

// TestTruncatedValues tests that cut-off responses fail to parse
func TestTruncatedValues(t *testing.T) {
	out := buffer.New(64)
	ctx := BeginResponse(out)
	OutStr(out, []byte("payload"))
	EndResponse(out, ctx)
	body := frameBody(t, out)

	for cut := 0; cut < len(body); cut++ {
		if _, _, err := ParseValue(body[:cut]); err == nil {
			t.Errorf("parse of %d/%d bytes should fail", cut, len(body))
		}
	}
}

// TestEmptyArr tests the empty keys response shape
func TestEmptyArr(t *testing.T) {
	out := buffer.New(16)
	ctx := BeginResponse(out)
	OutArr(out, 0)
	EndResponse(out, ctx)

	v, _, err := ParseValue(frameBody(t, out))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if v.Tag != TagArr || len(v.Arr) != 0 {
		t.Errorf("expected empty array, got tag=%d len=%d", v.Tag, len(v.Arr))
	}
}
