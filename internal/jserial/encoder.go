package jserial

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

// ClassSpec declares a class descriptor for the Encoder.
type ClassSpec struct {
	Name   string
	UID    int64
	Flags  byte
	Fields []FieldDesc
	Super  *ClassSpec
}

// Encoder writes the subset of the protocol the Parser reads. Class
// descriptors and strings written twice are emitted as back-references.
// Field values are written by the caller in descriptor order.
type Encoder struct {
	w       *bufio.Writer
	next    int32
	classes map[*ClassSpec]int32
	strings map[string]int32
	err     error
}

// NewEncoder writes the stream header.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{
		w:       bufio.NewWriter(w),
		next:    baseHandle,
		classes: make(map[*ClassSpec]int32),
		strings: make(map[string]int32),
	}
	e.u16(streamMagic)
	e.u16(streamVersion)
	return e
}

// Flush writes buffered data and returns the first error encountered.
func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	e.err = e.w.Flush()
	return e.err
}

func (e *Encoder) WriteNull() {
	e.put(tcNull)
}

// WriteString writes a string object, or a reference to an earlier copy.
func (e *Encoder) WriteString(s string) {
	if h, ok := e.strings[s]; ok {
		e.put(tcReference)
		e.i32(h)
		return
	}
	raw := encodeModifiedUTF8(s)
	if len(raw) > math.MaxUint16 {
		e.put(tcLongString)
		e.i64(int64(len(raw)))
	} else {
		e.put(tcString)
		e.u16(uint16(len(raw)))
	}
	e.raw(raw)
	e.strings[s] = e.handle()
}

// BeginObject writes TC_OBJECT and the class descriptor chain. The caller
// then writes class data superclass first.
func (e *Encoder) BeginObject(c *ClassSpec) {
	e.put(tcObject)
	e.classDesc(c)
	e.handle()
}

// WriteByteArray writes a byte[] object.
func (e *Encoder) WriteByteArray(b []byte) {
	e.put(tcArray)
	e.classDesc(byteArrayClass)
	e.handle()
	e.i32(int32(len(b)))
	e.raw(b)
}

// WriteBlockData writes one block-data chunk.
func (e *Encoder) WriteBlockData(b []byte) {
	if len(b) <= math.MaxUint8 {
		e.put(tcBlockData)
		e.put(byte(len(b)))
	} else {
		e.put(tcBlockDataLong)
		e.i32(int32(len(b)))
	}
	e.raw(b)
}

// EndBlockData closes an object annotation.
func (e *Encoder) EndBlockData() {
	e.put(tcEndBlockData)
}

// Reset writes TC_RESET and forgets all handles.
func (e *Encoder) Reset() {
	e.put(tcReset)
	e.next = baseHandle
	clear(e.classes)
	clear(e.strings)
}

// Int32 writes a primitive int field value.
func (e *Encoder) Int32(v int32) {
	e.i32(v)
}

// Int64 writes a primitive long field value.
func (e *Encoder) Int64(v int64) {
	e.i64(v)
}

// Float32 writes a primitive float field value.
func (e *Encoder) Float32(v float32) {
	e.i32(int32(math.Float32bits(v)))
}

var byteArrayClass = &ClassSpec{Name: "[B", UID: -5984413125824719648, Flags: FlagSerializable}

func (e *Encoder) classDesc(c *ClassSpec) {
	if c == nil {
		e.put(tcNull)
		return
	}
	if h, ok := e.classes[c]; ok {
		e.put(tcReference)
		e.i32(h)
		return
	}
	e.put(tcClassDesc)
	e.utf(c.Name)
	e.i64(c.UID)
	e.classes[c] = e.handle()
	e.put(c.Flags)
	e.u16(uint16(len(c.Fields)))
	for _, f := range c.Fields {
		e.put(f.Type)
		e.utf(f.Name)
		if !f.IsPrimitive() {
			e.WriteString(f.ClassName)
		}
	}
	e.put(tcEndBlockData)
	e.classDesc(c.Super)
}

func (e *Encoder) handle() int32 {
	h := e.next
	e.next++
	return h
}

func (e *Encoder) utf(s string) {
	raw := encodeModifiedUTF8(s)
	e.u16(uint16(len(raw)))
	e.raw(raw)
}

func (e *Encoder) put(b byte) {
	if e.err == nil {
		e.err = e.w.WriteByte(b)
	}
}

func (e *Encoder) raw(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *Encoder) u16(v uint16) {
	e.raw(binary.BigEndian.AppendUint16(nil, v))
}

func (e *Encoder) i32(v int32) {
	e.raw(binary.BigEndian.AppendUint32(nil, uint32(v)))
}

func (e *Encoder) i64(v int64) {
	e.raw(binary.BigEndian.AppendUint64(nil, uint64(v)))
}
