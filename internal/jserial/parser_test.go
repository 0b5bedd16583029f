package jserial

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pointClass = &ClassSpec{
		Name:  "test.Point",
		UID:   1,
		Flags: FlagSerializable,
		Fields: []FieldDesc{
			{Type: TypeInt, Name: "x"},
			{Type: TypeLong, Name: "y"},
			{Type: TypeObject, Name: "label", ClassName: "Ljava/lang/String;"},
		},
	}
	namedPointClass = &ClassSpec{
		Name:   "test.NamedPoint",
		UID:    2,
		Flags:  FlagSerializable,
		Fields: []FieldDesc{{Type: TypeArray, Name: "raw", ClassName: "[B"}},
		Super:  pointClass,
	}
	bagClass = &ClassSpec{
		Name:  "test.Bag",
		UID:   3,
		Flags: FlagSerializable | FlagWriteMethod,
	}
)

func encode(t *testing.T, fn func(e *Encoder)) []byte {
	t.Helper()
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	fn(e)
	require.NoError(t, e.Flush())
	return buf.Bytes()
}

func parseOne(t *testing.T, data []byte) any {
	t.Helper()
	p, err := NewParser(bytes.NewReader(data))
	require.NoError(t, err)
	v, err := p.ReadObject()
	require.NoError(t, err)
	return v
}

func TestParseObjectWithSuperclass(t *testing.T) {
	data := encode(t, func(e *Encoder) {
		e.BeginObject(namedPointClass)
		e.Int32(-7)
		e.Int64(1 << 40)
		e.WriteString("origin")
		e.WriteByteArray([]byte{0xde, 0xad})
	})

	obj, ok := parseOne(t, data).(*Object)
	require.True(t, ok)
	assert.Equal(t, "test.NamedPoint", obj.Class.Name)
	require.Len(t, obj.Data, 2)
	assert.Equal(t, "test.Point", obj.Data[0].Class.Name)

	x, _ := obj.Field("x")
	assert.Equal(t, int32(-7), x)
	y, _ := obj.Field("y")
	assert.Equal(t, int64(1<<40), y)
	label, _ := obj.Field("label")
	assert.Equal(t, "origin", label)
	raw, _ := obj.Field("raw")
	arr, ok := raw.(*Array)
	require.True(t, ok)
	assert.Equal(t, []byte{0xde, 0xad}, arr.Bytes)
	assert.Equal(t, 2, arr.Len())

	_, ok = obj.Field("missing")
	assert.False(t, ok)
}

func TestParseBackReferences(t *testing.T) {
	data := encode(t, func(e *Encoder) {
		e.BeginObject(pointClass)
		e.Int32(1)
		e.Int64(2)
		e.WriteString("shared")
		e.BeginObject(pointClass)
		e.Int32(3)
		e.Int64(4)
		e.WriteString("shared")
	})

	p, err := NewParser(bytes.NewReader(data))
	require.NoError(t, err)
	first, err := p.ReadObject()
	require.NoError(t, err)
	second, err := p.ReadObject()
	require.NoError(t, err)
	_, err = p.ReadObject()
	assert.ErrorIs(t, err, io.EOF)

	a := first.(*Object)
	b := second.(*Object)
	assert.Same(t, a.Class, b.Class)
	la, _ := a.Field("label")
	lb, _ := b.Field("label")
	assert.Equal(t, la, lb)
}

func TestAnnotationReader(t *testing.T) {
	data := encode(t, func(e *Encoder) {
		e.BeginObject(bagClass)
		block := binary.BigEndian.AppendUint32(nil, 16)
		e.WriteBlockData(block[:3])
		e.WriteBlockData(append(block[3:], 0, 0, 0, 2))
		e.WriteString("k1")
		e.WriteNull()
		e.WriteString("k2")
		e.WriteString("v2")
		e.EndBlockData()
	})

	obj := parseOne(t, data).(*Object)
	assert.Equal(t, 1, obj.AnnotationCount())
	ann, ok := obj.Annotation(0)
	require.True(t, ok)

	capacity, err := ann.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(16), capacity)
	n, err := ann.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(2), n)

	var got []any
	for ann.Remaining() {
		v, err := ann.ReadObject()
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, []any{"k1", nil, "k2", "v2"}, got)

	_, err = ann.ReadInt32()
	assert.ErrorIs(t, err, ErrEndOfAnnotation)
	_, ok = obj.Annotation(1)
	assert.False(t, ok)
}

func TestAnnotationReaderRejectsMisalignedReads(t *testing.T) {
	data := encode(t, func(e *Encoder) {
		e.BeginObject(bagClass)
		e.WriteBlockData([]byte{0, 0})
		e.WriteString("x")
		e.EndBlockData()
	})
	obj := parseOne(t, data).(*Object)

	ann, _ := obj.Annotation(0)
	_, err := ann.ReadInt32()
	assert.ErrorIs(t, err, ErrUnexpectedObject)

	ann, _ = obj.Annotation(0)
	_, err = ann.ReadByte()
	require.NoError(t, err)
	_, err = ann.ReadObject()
	assert.ErrorIs(t, err, ErrUnexpectedBlock)
}

func TestParseReset(t *testing.T) {
	data := encode(t, func(e *Encoder) {
		e.WriteString("before")
		e.Reset()
		e.WriteString("before")
	})
	p, err := NewParser(bytes.NewReader(data))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		v, err := p.ReadObject()
		require.NoError(t, err)
		assert.Equal(t, "before", v)
	}
}

func TestParseModifiedUTF8(t *testing.T) {
	s := "zero\x00 é € 𝄞"
	data := encode(t, func(e *Encoder) { e.WriteString(s) })
	assert.Equal(t, s, parseOne(t, data))

	raw := encodeModifiedUTF8("\x00")
	assert.Equal(t, []byte{0xC0, 0x80}, raw)
	_, err := decodeModifiedUTF8([]byte{0xC3})
	assert.ErrorIs(t, err, ErrInvalidUTF)
}

func TestParseErrors(t *testing.T) {
	_, err := NewParser(bytes.NewReader([]byte{0xCA, 0xFE, 0, 5}))
	assert.ErrorIs(t, err, ErrBadMagic)

	_, err = NewParser(bytes.NewReader([]byte{0xAC, 0xED, 0, 4}))
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = NewParser(bytes.NewReader([]byte{0xAC}))
	assert.ErrorIs(t, err, ErrTruncated)

	full := encode(t, func(e *Encoder) {
		e.BeginObject(pointClass)
		e.Int32(1)
		e.Int64(2)
		e.WriteString("label")
	})
	p, err := NewParser(bytes.NewReader(full[:len(full)-3]))
	require.NoError(t, err)
	_, err = p.ReadObject()
	assert.ErrorIs(t, err, ErrTruncated)

	p, err = NewParser(bytes.NewReader([]byte{0xAC, 0xED, 0, 5, 0x42}))
	require.NoError(t, err)
	_, err = p.ReadObject()
	var syntaxErr *SyntaxError
	require.True(t, errors.As(err, &syntaxErr))
	assert.Equal(t, byte(0x42), syntaxErr.Code)

	p, err = NewParser(bytes.NewReader([]byte{0xAC, 0xED, 0, 5, tcReference, 0, 0x7E, 0, 9}))
	require.NoError(t, err)
	_, err = p.ReadObject()
	assert.ErrorIs(t, err, ErrBadHandle)

	p, err = NewParser(bytes.NewReader([]byte{0xAC, 0xED, 0, 5, tcBlockData, 1, 0}))
	require.NoError(t, err)
	_, err = p.ReadObject()
	assert.ErrorIs(t, err, ErrUnexpectedBlock)
}

// selfSuperStream declares class A whose superclass is a back-reference to A.
var selfSuperStream = []byte{
	0xAC, 0xED, 0, 5,
	tcObject, tcClassDesc, 0, 1, 'A', 0, 0, 0, 0, 0, 0, 0, 0, FlagSerializable, 0, 0, tcEndBlockData,
	tcReference, 0, 0x7E, 0, 0,
}

// mutualSuperStream declares A extends B extends A.
var mutualSuperStream = []byte{
	0xAC, 0xED, 0, 5,
	tcObject, tcClassDesc, 0, 1, 'A', 0, 0, 0, 0, 0, 0, 0, 0, FlagSerializable, 0, 0, tcEndBlockData,
	tcClassDesc, 0, 1, 'B', 0, 0, 0, 0, 0, 0, 0, 0, FlagSerializable, 0, 0, tcEndBlockData,
	tcReference, 0, 0x7E, 0, 0,
}

// nullEnumStream is an enum constant with a null class descriptor.
var nullEnumStream = []byte{0xAC, 0xED, 0, 5, tcEnum, tcNull, tcString, 0, 1, 'X'}

func readOne(t *testing.T, data []byte) (any, error) {
	t.Helper()
	p, err := NewParser(bytes.NewReader(data))
	require.NoError(t, err)
	return p.ReadObject()
}

func TestParseRejectsCyclicHierarchy(t *testing.T) {
	for name, data := range map[string][]byte{
		"self":   selfSuperStream,
		"mutual": mutualSuperStream,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := readOne(t, data)
			assert.ErrorIs(t, err, ErrCyclicHierarchy)
		})
	}
}

func TestParseRejectsNullEnumClass(t *testing.T) {
	_, err := readOne(t, nullEnumStream)
	var typeErr *TypeError
	require.True(t, errors.As(err, &typeErr), "%v", err)
	assert.Equal(t, "enum class descriptor", typeErr.Want)
}

func TestTypeNameWithoutClass(t *testing.T) {
	assert.Equal(t, "enum", TypeName(&Enum{}))
	assert.Equal(t, "array", TypeName(&Array{}))
}

func FuzzParser(f *testing.F) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	e.BeginObject(namedPointClass)
	e.Int32(1)
	e.Int64(2)
	e.WriteString("seed")
	e.WriteByteArray([]byte{1, 2, 3})
	_ = e.Flush()
	f.Add(buf.Bytes())
	f.Add([]byte{0xAC, 0xED, 0, 5})
	f.Add(selfSuperStream)
	f.Add(mutualSuperStream)
	f.Add(nullEnumStream)
	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := NewParser(bytes.NewReader(data))
		if err != nil {
			return
		}
		for i := 0; i < 16; i++ {
			if _, err := p.ReadObject(); err != nil {
				return
			}
		}
	})
}
