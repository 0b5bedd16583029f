// Package jserial reads the Java Object Serialization Stream Protocol far
// enough to reconstruct plain serializable object graphs: class
// descriptors, primitive and object fields, arrays, strings, enums,
// back-references and custom writeObject/writeExternal annotations.
package jserial

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Parser decodes a serialization stream. It is not safe for concurrent use.
type Parser struct {
	r       *bufio.Reader
	off     int64
	handles []any
}

// NewParser validates the stream header and returns a parser positioned at
// the first content element.
func NewParser(r io.Reader) (*Parser, error) {
	p := &Parser{r: bufio.NewReader(r)}
	magic, err := p.readUint16()
	if err != nil {
		return nil, err
	}
	if magic != streamMagic {
		return nil, fmt.Errorf("%w: 0x%04x", ErrBadMagic, magic)
	}
	version, err := p.readUint16()
	if err != nil {
		return nil, err
	}
	if version != streamVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	return p, nil
}

// ReadObject reads the next top-level content element. It returns io.EOF
// when the stream is exhausted.
func (p *Parser) ReadObject() (any, error) {
	if _, err := p.r.Peek(1); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	return p.readContent(false)
}

func (p *Parser) readContent(allowBlock bool) (any, error) {
	for {
		tc, err := p.readByte()
		if err != nil {
			return nil, err
		}
		switch tc {
		case tcNull:
			return nil, nil
		case tcReference:
			return p.readHandle()
		case tcObject:
			return p.readNewObject()
		case tcString:
			return p.readNewString(false)
		case tcLongString:
			return p.readNewString(true)
		case tcArray:
			return p.readNewArray()
		case tcEnum:
			return p.readNewEnum()
		case tcClass:
			desc, err := p.readClassDesc()
			if err != nil {
				return nil, err
			}
			c := &Class{Desc: desc}
			p.newHandle(c)
			return c, nil
		case tcClassDesc:
			return p.readNewClassDesc()
		case tcProxyClassDesc:
			return p.readNewProxyClassDesc()
		case tcBlockData, tcBlockDataLong:
			if !allowBlock {
				return nil, ErrUnexpectedBlock
			}
			return p.readBlockData(tc)
		case tcReset:
			p.handles = p.handles[:0]
			continue
		case tcException:
			return nil, ErrException
		default:
			return nil, &SyntaxError{Offset: p.off - 1, Code: tc, Msg: "unknown type code"}
		}
	}
}

func (p *Parser) newHandle(v any) {
	p.handles = append(p.handles, v)
}

func (p *Parser) readHandle() (any, error) {
	h, err := p.readInt32()
	if err != nil {
		return nil, err
	}
	idx := int64(h) - baseHandle
	if idx < 0 || idx >= int64(len(p.handles)) {
		return nil, fmt.Errorf("%w: 0x%x", ErrBadHandle, h)
	}
	return p.handles[idx], nil
}

func (p *Parser) readClassDesc() (*ClassDesc, error) {
	tc, err := p.readByte()
	if err != nil {
		return nil, err
	}
	switch tc {
	case tcNull:
		return nil, nil
	case tcClassDesc:
		return p.readNewClassDesc()
	case tcProxyClassDesc:
		return p.readNewProxyClassDesc()
	case tcReference:
		v, err := p.readHandle()
		if err != nil {
			return nil, err
		}
		desc, ok := v.(*ClassDesc)
		if !ok {
			return nil, &TypeError{Want: "classdesc", Got: TypeName(v)}
		}
		return desc, nil
	default:
		return nil, &SyntaxError{Offset: p.off - 1, Code: tc, Msg: "expected class descriptor"}
	}
}

func (p *Parser) readNewClassDesc() (*ClassDesc, error) {
	name, err := p.readUTF()
	if err != nil {
		return nil, err
	}
	uid, err := p.readInt64()
	if err != nil {
		return nil, err
	}
	desc := &ClassDesc{Name: name, SerialVersionUID: uid}
	p.newHandle(desc)
	if desc.Flags, err = p.readByte(); err != nil {
		return nil, err
	}
	count, err := p.readInt16()
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("jserial: class %s: negative field count %d", name, count)
	}
	desc.Fields = make([]FieldDesc, 0, count)
	for i := 0; i < int(count); i++ {
		f := FieldDesc{}
		if f.Type, err = p.readByte(); err != nil {
			return nil, err
		}
		if f.Name, err = p.readUTF(); err != nil {
			return nil, err
		}
		switch f.Type {
		case TypeByte, TypeChar, TypeDouble, TypeFloat, TypeInt, TypeLong, TypeShort, TypeBoolean:
		case TypeArray, TypeObject:
			v, err := p.readContent(false)
			if err != nil {
				return nil, err
			}
			s, ok := v.(string)
			if !ok {
				return nil, &TypeError{Want: "field type string", Got: TypeName(v)}
			}
			f.ClassName = s
		default:
			return nil, &SyntaxError{Offset: p.off - 1, Code: f.Type, Msg: "unknown field type"}
		}
		desc.Fields = append(desc.Fields, f)
	}
	if _, err := p.readAnnotation(); err != nil {
		return nil, err
	}
	if desc.Super, err = p.readClassDesc(); err != nil {
		return nil, err
	}
	if err := checkHierarchy(desc); err != nil {
		return nil, err
	}
	return desc, nil
}

// checkHierarchy rejects a superclass chain that loops back or exceeds
// maxHierarchyDepth. Every earlier descriptor was checked when it was
// completed, so any new cycle passes through desc.
func checkHierarchy(desc *ClassDesc) error {
	depth := 0
	for d := desc.Super; d != nil; d = d.Super {
		if d == desc {
			return fmt.Errorf("%w: %s", ErrCyclicHierarchy, desc.Name)
		}
		if depth++; depth > maxHierarchyDepth {
			return fmt.Errorf("%w: %s deeper than %d", ErrCyclicHierarchy, desc.Name, maxHierarchyDepth)
		}
	}
	return nil
}

func (p *Parser) readNewProxyClassDesc() (*ClassDesc, error) {
	desc := &ClassDesc{}
	p.newHandle(desc)
	count, err := p.readInt32()
	if err != nil {
		return nil, err
	}
	if count < 0 || count > math.MaxUint16 {
		return nil, fmt.Errorf("jserial: invalid proxy interface count %d", count)
	}
	for i := 0; i < int(count); i++ {
		name, err := p.readUTF()
		if err != nil {
			return nil, err
		}
		desc.Interfaces = append(desc.Interfaces, name)
	}
	if _, err := p.readAnnotation(); err != nil {
		return nil, err
	}
	if desc.Super, err = p.readClassDesc(); err != nil {
		return nil, err
	}
	if err := checkHierarchy(desc); err != nil {
		return nil, err
	}
	desc.Flags = FlagSerializable
	return desc, nil
}

// readAnnotation collects contents up to the closing TC_ENDBLOCKDATA.
func (p *Parser) readAnnotation() ([]any, error) {
	var contents []any
	for {
		b, err := p.r.Peek(1)
		if err != nil {
			return nil, p.wrapEOF(err)
		}
		if b[0] == tcEndBlockData {
			_, _ = p.readByte()
			return contents, nil
		}
		v, err := p.readContent(true)
		if err != nil {
			return nil, err
		}
		contents = append(contents, v)
	}
}

func (p *Parser) readNewObject() (*Object, error) {
	desc, err := p.readClassDesc()
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, &TypeError{Want: "object class descriptor", Got: "null"}
	}
	obj := &Object{Class: desc}
	p.newHandle(obj)
	for _, cd := range desc.Hierarchy() {
		data := ClassData{Class: cd}
		switch {
		case cd.Flags&FlagExternalizable != 0:
			if cd.Flags&FlagBlockData == 0 {
				return nil, fmt.Errorf("jserial: class %s: externalizable data without block mode is not supported", cd.Name)
			}
			if data.Annotation, err = p.readAnnotation(); err != nil {
				return nil, err
			}
			data.HasAnnotation = true
		case cd.Flags&FlagSerializable != 0:
			if data.Values, err = p.readFieldValues(cd); err != nil {
				return nil, err
			}
			if cd.Flags&FlagWriteMethod != 0 {
				if data.Annotation, err = p.readAnnotation(); err != nil {
					return nil, err
				}
				data.HasAnnotation = true
			}
		default:
			return nil, fmt.Errorf("jserial: class %s is neither serializable nor externalizable", cd.Name)
		}
		obj.Data = append(obj.Data, data)
	}
	return obj, nil
}

func (p *Parser) readFieldValues(cd *ClassDesc) (map[string]any, error) {
	values := make(map[string]any, len(cd.Fields))
	for _, f := range cd.Fields {
		v, err := p.readValue(f.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", cd.Name, f.Name, err)
		}
		values[f.Name] = v
	}
	return values, nil
}

func (p *Parser) readValue(typ byte) (any, error) {
	switch typ {
	case TypeByte:
		b, err := p.readByte()
		return int8(b), err
	case TypeBoolean:
		b, err := p.readByte()
		return b != 0, err
	case TypeChar:
		return p.readUint16()
	case TypeShort:
		return p.readInt16()
	case TypeInt:
		return p.readInt32()
	case TypeLong:
		return p.readInt64()
	case TypeFloat:
		v, err := p.readInt32()
		return math.Float32frombits(uint32(v)), err
	case TypeDouble:
		v, err := p.readInt64()
		return math.Float64frombits(uint64(v)), err
	case TypeObject, TypeArray:
		return p.readContent(false)
	default:
		return nil, &SyntaxError{Offset: p.off, Code: typ, Msg: "unknown value type"}
	}
}

func (p *Parser) readNewArray() (*Array, error) {
	desc, err := p.readClassDesc()
	if err != nil {
		return nil, err
	}
	if desc == nil || len(desc.Name) < 2 || desc.Name[0] != '[' {
		return nil, &TypeError{Want: "array class descriptor", Got: fmt.Sprintf("%v", desc)}
	}
	arr := &Array{Class: desc}
	p.newHandle(arr)
	size, err := p.readInt32()
	if err != nil {
		return nil, err
	}
	if size < 0 || size > maxAlloc {
		return nil, fmt.Errorf("%w: array of %d elements", ErrTooLarge, size)
	}
	elem := desc.Name[1]
	if elem == TypeByte {
		arr.Bytes = make([]byte, size)
		if err := p.readFull(arr.Bytes); err != nil {
			return nil, err
		}
		return arr, nil
	}
	arr.Values = make([]any, 0, min(int(size), 4096))
	for i := 0; i < int(size); i++ {
		v, err := p.readValue(elem)
		if err != nil {
			return nil, err
		}
		arr.Values = append(arr.Values, v)
	}
	return arr, nil
}

func (p *Parser) readNewEnum() (*Enum, error) {
	desc, err := p.readClassDesc()
	if err != nil {
		return nil, err
	}
	if desc == nil {
		return nil, &TypeError{Want: "enum class descriptor", Got: "null"}
	}
	e := &Enum{Class: desc}
	p.newHandle(e)
	v, err := p.readContent(false)
	if err != nil {
		return nil, err
	}
	name, ok := v.(string)
	if !ok {
		return nil, &TypeError{Want: "enum constant name", Got: TypeName(v)}
	}
	e.Constant = name
	return e, nil
}

func (p *Parser) readNewString(long bool) (string, error) {
	var n int64
	if long {
		v, err := p.readInt64()
		if err != nil {
			return "", err
		}
		n = v
	} else {
		v, err := p.readUint16()
		if err != nil {
			return "", err
		}
		n = int64(v)
	}
	s, err := p.readModifiedUTF8(n)
	if err != nil {
		return "", err
	}
	p.newHandle(s)
	return s, nil
}

func (p *Parser) readBlockData(tc byte) (BlockData, error) {
	var n int64
	if tc == tcBlockData {
		b, err := p.readByte()
		if err != nil {
			return nil, err
		}
		n = int64(b)
	} else {
		v, err := p.readInt32()
		if err != nil {
			return nil, err
		}
		n = int64(v)
	}
	if n < 0 || n > maxAlloc {
		return nil, fmt.Errorf("%w: block of %d bytes", ErrTooLarge, n)
	}
	buf := make([]byte, n)
	if err := p.readFull(buf); err != nil {
		return nil, err
	}
	return BlockData(buf), nil
}

func (p *Parser) readUTF() (string, error) {
	n, err := p.readUint16()
	if err != nil {
		return "", err
	}
	return p.readModifiedUTF8(int64(n))
}

func (p *Parser) readModifiedUTF8(n int64) (string, error) {
	if n < 0 || n > maxAlloc {
		return "", fmt.Errorf("%w: string of %d bytes", ErrTooLarge, n)
	}
	buf := make([]byte, n)
	if err := p.readFull(buf); err != nil {
		return "", err
	}
	return decodeModifiedUTF8(buf)
}

func (p *Parser) readFull(buf []byte) error {
	n, err := io.ReadFull(p.r, buf)
	p.off += int64(n)
	return p.wrapEOF(err)
}

func (p *Parser) readByte() (byte, error) {
	b, err := p.r.ReadByte()
	if err != nil {
		return 0, p.wrapEOF(err)
	}
	p.off++
	return b, nil
}

func (p *Parser) readUint16() (uint16, error) {
	var buf [2]byte
	if err := p.readFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (p *Parser) readInt16() (int16, error) {
	v, err := p.readUint16()
	return int16(v), err
}

func (p *Parser) readInt32() (int32, error) {
	var buf [4]byte
	if err := p.readFull(buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func (p *Parser) readInt64() (int64, error) {
	var buf [8]byte
	if err := p.readFull(buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

func (p *Parser) wrapEOF(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w at offset %d", ErrTruncated, p.off)
	}
	return err
}
