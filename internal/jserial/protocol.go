package jserial

import (
	"errors"
	"fmt"
)

const (
	streamMagic   = 0xACED
	streamVersion = 5
	baseHandle    = 0x7E0000
)

// Type codes.
const (
	tcNull           = 0x70
	tcReference      = 0x71
	tcClassDesc      = 0x72
	tcObject         = 0x73
	tcString         = 0x74
	tcArray          = 0x75
	tcClass          = 0x76
	tcBlockData      = 0x77
	tcEndBlockData   = 0x78
	tcReset          = 0x79
	tcBlockDataLong  = 0x7A
	tcException      = 0x7B
	tcLongString     = 0x7C
	tcProxyClassDesc = 0x7D
	tcEnum           = 0x7E
)

// Class descriptor flags.
const (
	FlagWriteMethod    = 0x01
	FlagSerializable   = 0x02
	FlagExternalizable = 0x04
	FlagBlockData      = 0x08
	FlagEnum           = 0x10
)

// Field type codes.
const (
	TypeByte    = 'B'
	TypeChar    = 'C'
	TypeDouble  = 'D'
	TypeFloat   = 'F'
	TypeInt     = 'I'
	TypeLong    = 'J'
	TypeShort   = 'S'
	TypeBoolean = 'Z'
	TypeArray   = '['
	TypeObject  = 'L'
)

// maxAlloc bounds any single length prefix read from the stream.
const maxAlloc = 1 << 28

// maxHierarchyDepth bounds the superclass chain of one class descriptor.
const maxHierarchyDepth = 256

var (
	ErrBadMagic         = errors.New("jserial: bad stream magic")
	ErrBadVersion       = errors.New("jserial: unsupported stream version")
	ErrTruncated        = errors.New("jserial: truncated stream")
	ErrException        = errors.New("jserial: stream contains a serialized exception")
	ErrTooLarge         = errors.New("jserial: length exceeds limit")
	ErrEndOfAnnotation  = errors.New("jserial: end of annotation data")
	ErrUnexpectedBlock  = errors.New("jserial: unexpected block data")
	ErrUnexpectedObject = errors.New("jserial: unexpected object in block data")
	ErrBadHandle        = errors.New("jserial: invalid back-reference handle")
	ErrInvalidUTF       = errors.New("jserial: invalid modified UTF-8")
	ErrCyclicHierarchy  = errors.New("jserial: cyclic or too deep class hierarchy")
)

// TypeError reports a value of an unexpected kind.
type TypeError struct {
	Want string
	Got  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("jserial: expected %s, got %s", e.Want, e.Got)
}

// SyntaxError reports an unknown type code at a stream offset.
type SyntaxError struct {
	Offset int64
	Code   byte
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("jserial: offset %d: %s (0x%02x)", e.Offset, e.Msg, e.Code)
}
