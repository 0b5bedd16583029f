package jserial

import (
	"encoding/binary"
	"fmt"
)

// AnnotationReader reads the custom data a class wrote from writeObject or
// writeExternal, mirroring ObjectInputStream: primitives come out of block
// data chunks and objects out of the content elements between them.
type AnnotationReader struct {
	contents []any
	next     int
	block    []byte
}

func newAnnotationReader(contents []any) *AnnotationReader {
	return &AnnotationReader{contents: contents}
}

// Remaining reports whether unread block bytes or contents are left.
func (a *AnnotationReader) Remaining() bool {
	return len(a.block) > 0 || a.next < len(a.contents)
}

// ReadBytes consumes exactly n bytes of block data, spanning chunk
// boundaries when needed.
func (a *AnnotationReader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > maxAlloc {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		if len(a.block) == 0 {
			if a.next >= len(a.contents) {
				return nil, ErrEndOfAnnotation
			}
			chunk, ok := a.contents[a.next].(BlockData)
			if !ok {
				return nil, fmt.Errorf("%w: found %s", ErrUnexpectedObject, TypeName(a.contents[a.next]))
			}
			a.next++
			a.block = chunk
			continue
		}
		k := min(n-len(out), len(a.block))
		out = append(out, a.block[:k]...)
		a.block = a.block[k:]
	}
	return out, nil
}

func (a *AnnotationReader) ReadByte() (byte, error) {
	b, err := a.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (a *AnnotationReader) ReadInt32() (int32, error) {
	b, err := a.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (a *AnnotationReader) ReadInt64() (int64, error) {
	b, err := a.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// ReadUTF reads a DataOutput.writeUTF string.
func (a *AnnotationReader) ReadUTF() (string, error) {
	b, err := a.ReadBytes(2)
	if err != nil {
		return "", err
	}
	raw, err := a.ReadBytes(int(binary.BigEndian.Uint16(b)))
	if err != nil {
		return "", err
	}
	return decodeModifiedUTF8(raw)
}

// ReadObject returns the next object content. Unread block bytes before it
// are an error, as ObjectInputStream raises OptionalDataException there.
func (a *AnnotationReader) ReadObject() (any, error) {
	if len(a.block) > 0 {
		return nil, fmt.Errorf("%w: %d bytes pending", ErrUnexpectedBlock, len(a.block))
	}
	if a.next >= len(a.contents) {
		return nil, ErrEndOfAnnotation
	}
	v := a.contents[a.next]
	if _, ok := v.(BlockData); ok {
		return nil, ErrUnexpectedBlock
	}
	a.next++
	return v, nil
}
