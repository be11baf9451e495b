// Package proto defines the wire protocol: length-prefixed request frames
// carrying a vector of byte-strings, and length-prefixed response frames
// carrying one tagged value tree. All multibyte integers and doubles are
// little-endian.
//
// Request body layout:
//
//	+------+-----+------+-----+------+-----+-----+------+
//	| nstr | len | str1 | len | str2 | ... | len | strn |
//	+------+-----+------+-----+------+-----+-----+------+
//
// Responses are serialized directly into the connection's outgoing buffer;
// a placeholder length header is appended first and back-patched once the
// value tree is complete, so nested arrays of unknown size need no second
// pass.
package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sablekv/sable/lib/ds/buffer"
)

const (
	// HeaderSize is the length prefix of every frame, excluded from the
	// length itself.
	HeaderSize = 4
	// MaxMsg caps a frame body at 32 MiB; larger frames are a protocol
	// error and close the connection.
	MaxMsg = 32 << 20
	// MaxArgs caps the number of strings in one request.
	MaxArgs = 200 * 1000
)

// Value type tags of the response encoding.
const (
	TagNil = 0 // no payload
	TagErr = 1 // code:u32, len:u32, message bytes
	TagStr = 2 // len:u32, bytes
	TagInt = 3 // i64
	TagDbl = 4 // f64
	TagArr = 5 // n:u32, n tagged values
)

// Error codes carried by TagErr.
const (
	ErrUnknown = 1 // unknown command
	ErrTooBig  = 2 // response too big
	ErrBadTyp  = 3 // unexpected value type
	ErrBadArg  = 4 // bad arguments
)

var (
	// ErrProtocol reports an unrecoverable framing violation.
	ErrProtocol = errors.New("protocol error")
	// ErrFrameTooBig reports a frame exceeding MaxMsg.
	ErrFrameTooBig = fmt.Errorf("%w: frame exceeds %d bytes", ErrProtocol, MaxMsg)
)

// --------------------------------------------------------------------------
// Request parsing
// --------------------------------------------------------------------------

func readU32(data []byte, pos *int) (uint32, bool) {
	if len(data)-*pos < 4 {
		return 0, false
	}
	v := binary.LittleEndian.Uint32(data[*pos:])
	*pos += 4
	return v, true
}

// ParseRequest decodes one request body (the frame without its length
// header) into a command vector. The strings alias data.
func ParseRequest(data []byte) ([][]byte, error) {
	pos := 0
	nstr, ok := readU32(data, &pos)
	if !ok {
		return nil, fmt.Errorf("%w: truncated request", ErrProtocol)
	}
	if nstr > MaxArgs {
		return nil, fmt.Errorf("%w: too many strings (%d)", ErrProtocol, nstr)
	}

	cmd := make([][]byte, 0, nstr)
	for uint32(len(cmd)) < nstr {
		strLen, ok := readU32(data, &pos)
		if !ok {
			return nil, fmt.Errorf("%w: truncated string length", ErrProtocol)
		}
		if len(data)-pos < int(strLen) {
			return nil, fmt.Errorf("%w: truncated string body", ErrProtocol)
		}
		cmd = append(cmd, data[pos:pos+int(strLen)])
		pos += int(strLen)
	}
	if pos != len(data) {
		return nil, fmt.Errorf("%w: trailing bytes after last string", ErrProtocol)
	}
	return cmd, nil
}

// AppendRequest frames a command vector into out. Used by the client side.
func AppendRequest(out *buffer.Buffer, cmd [][]byte) {
	bodyLen := 4
	for _, s := range cmd {
		bodyLen += 4 + len(s)
	}
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(bodyLen))
	out.Append(u32[:])
	binary.LittleEndian.PutUint32(u32[:], uint32(len(cmd)))
	out.Append(u32[:])
	for _, s := range cmd {
		binary.LittleEndian.PutUint32(u32[:], uint32(len(s)))
		out.Append(u32[:])
		out.Append(s)
	}
}

// --------------------------------------------------------------------------
// Response serialization
// --------------------------------------------------------------------------

func appendU32(out *buffer.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	out.Append(b[:])
}

// OutNil appends a nil value.
func OutNil(out *buffer.Buffer) {
	out.AppendByte(TagNil)
}

// OutStr appends a string value.
func OutStr(out *buffer.Buffer, s []byte) {
	out.AppendByte(TagStr)
	appendU32(out, uint32(len(s)))
	out.Append(s)
}

// OutInt appends an int64 value.
func OutInt(out *buffer.Buffer, v int64) {
	out.AppendByte(TagInt)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	out.Append(b[:])
}

// OutDbl appends a double value.
func OutDbl(out *buffer.Buffer, v float64) {
	out.AppendByte(TagDbl)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	out.Append(b[:])
}

// OutErr appends an error value with one of the Err* codes.
func OutErr(out *buffer.Buffer, code uint32, msg string) {
	out.AppendByte(TagErr)
	appendU32(out, code)
	appendU32(out, uint32(len(msg)))
	out.Append([]byte(msg))
}

// OutArr appends an array header for a known element count.
func OutArr(out *buffer.Buffer, n uint32) {
	out.AppendByte(TagArr)
	appendU32(out, n)
}

// BeginArr appends an array header with a placeholder count and returns a
// context token for EndArr.
func BeginArr(out *buffer.Buffer) int {
	out.AppendByte(TagArr)
	appendU32(out, 0)
	return out.Size() - 4
}

// EndArr back-patches the element count recorded by BeginArr.
func EndArr(out *buffer.Buffer, ctx int, n uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], n)
	out.PatchAt(ctx, b[:])
}

// BeginResponse appends a placeholder frame header and returns its token.
func BeginResponse(out *buffer.Buffer) int {
	appendU32(out, 0)
	return out.Size() - HeaderSize
}

// EndResponse back-patches the frame length recorded by BeginResponse.
// A response larger than MaxMsg is replaced by a too-big error so the
// protocol framing stays intact.
func EndResponse(out *buffer.Buffer, ctx int) {
	payload := out.Size() - ctx - HeaderSize
	if payload > MaxMsg {
		// rewind the oversized payload, keep the header slot
		out.Truncate(ctx + HeaderSize)
		OutErr(out, ErrTooBig, "response is too big.")
		payload = out.Size() - ctx - HeaderSize
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(payload))
	out.PatchAt(ctx, b[:])
}

// --------------------------------------------------------------------------
// Response parsing (client side)
// --------------------------------------------------------------------------

// Value is one decoded node of a response tree.
type Value struct {
	Tag     byte
	Str     []byte  // TagStr
	Int     int64   // TagInt
	Dbl     float64 // TagDbl
	ErrCode uint32  // TagErr
	ErrMsg  string  // TagErr
	Arr     []Value // TagArr
}

// ParseValue decodes one tagged value from data, returning the value and
// the number of bytes consumed.
func ParseValue(data []byte) (Value, int, error) {
	if len(data) < 1 {
		return Value{}, 0, fmt.Errorf("%w: empty value", ErrProtocol)
	}
	tag := data[0]
	pos := 1
	switch tag {
	case TagNil:
		return Value{Tag: TagNil}, pos, nil
	case TagErr:
		code, ok1 := readU32(data, &pos)
		msgLen, ok2 := readU32(data, &pos)
		if !ok1 || !ok2 || len(data)-pos < int(msgLen) {
			return Value{}, 0, fmt.Errorf("%w: truncated error value", ErrProtocol)
		}
		msg := string(data[pos : pos+int(msgLen)])
		return Value{Tag: TagErr, ErrCode: code, ErrMsg: msg}, pos + int(msgLen), nil
	case TagStr:
		strLen, ok := readU32(data, &pos)
		if !ok || len(data)-pos < int(strLen) {
			return Value{}, 0, fmt.Errorf("%w: truncated string value", ErrProtocol)
		}
		s := append([]byte(nil), data[pos:pos+int(strLen)]...)
		return Value{Tag: TagStr, Str: s}, pos + int(strLen), nil
	case TagInt:
		if len(data)-pos < 8 {
			return Value{}, 0, fmt.Errorf("%w: truncated int value", ErrProtocol)
		}
		v := int64(binary.LittleEndian.Uint64(data[pos:]))
		return Value{Tag: TagInt, Int: v}, pos + 8, nil
	case TagDbl:
		if len(data)-pos < 8 {
			return Value{}, 0, fmt.Errorf("%w: truncated double value", ErrProtocol)
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(data[pos:]))
		return Value{Tag: TagDbl, Dbl: v}, pos + 8, nil
	case TagArr:
		n, ok := readU32(data, &pos)
		if !ok {
			return Value{}, 0, fmt.Errorf("%w: truncated array header", ErrProtocol)
		}
		arr := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			elem, used, err := ParseValue(data[pos:])
			if err != nil {
				return Value{}, 0, err
			}
			arr = append(arr, elem)
			pos += used
		}
		return Value{Tag: TagArr, Arr: arr}, pos, nil
	default:
		return Value{}, 0, fmt.Errorf("%w: unknown tag %d", ErrProtocol, tag)
	}
}

// String renders a value for the CLI.
func (v Value) String() string {
	switch v.Tag {
	case TagNil:
		return "(nil)"
	case TagErr:
		return fmt.Sprintf("(err) %d %s", v.ErrCode, v.ErrMsg)
	case TagStr:
		return fmt.Sprintf("(str) %s", v.Str)
	case TagInt:
		return fmt.Sprintf("(int) %d", v.Int)
	case TagDbl:
		return fmt.Sprintf("(dbl) %g", v.Dbl)
	case TagArr:
		s := fmt.Sprintf("(arr) len=%d", len(v.Arr))
		for _, e := range v.Arr {
			s += "\n    " + e.String()
		}
		return s
	default:
		return fmt.Sprintf("(bad tag %d)", v.Tag)
	}
}
