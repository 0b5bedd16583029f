package jserial

import "fmt"

// ClassDesc is a decoded class descriptor.
type ClassDesc struct {
	Name             string
	SerialVersionUID int64
	Flags            byte
	Fields           []FieldDesc
	Super            *ClassDesc
	// Interfaces is set for dynamic proxy descriptors only.
	Interfaces []string
}

// FieldDesc describes one serializable field of a class.
type FieldDesc struct {
	Type byte
	Name string
	// ClassName is the JVM type signature of object and array fields.
	ClassName string
}

// IsPrimitive reports whether the field is stored inline as a primitive.
func (f FieldDesc) IsPrimitive() bool {
	return f.Type != TypeObject && f.Type != TypeArray
}

// Hierarchy returns the descriptor chain ordered from the top-most
// serializable superclass down to c, which is the order class data
// appears in the stream.
func (c *ClassDesc) Hierarchy() []*ClassDesc {
	var chain []*ClassDesc
	for d := c; d != nil; d = d.Super {
		chain = append(chain, d)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// ClassData holds the values one class of the hierarchy contributed to an
// object.
type ClassData struct {
	Class  *ClassDesc
	Values map[string]any
	// Annotation holds the contents written by writeObject or
	// writeExternal: BlockData chunks interleaved with object values.
	Annotation    []any
	HasAnnotation bool
}

// Object is a deserialized Java object instance.
type Object struct {
	Class *ClassDesc
	Data  []ClassData
}

// Field looks a field up by name, most-derived class first.
func (o *Object) Field(name string) (any, bool) {
	for i := len(o.Data) - 1; i >= 0; i-- {
		if v, ok := o.Data[i].Values[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// AnnotationCount returns how many classes in the hierarchy wrote custom
// annotation data.
func (o *Object) AnnotationCount() int {
	n := 0
	for _, d := range o.Data {
		if d.HasAnnotation {
			n++
		}
	}
	return n
}

// Annotation returns a reader over the i-th annotation in stream order.
func (o *Object) Annotation(i int) (*AnnotationReader, bool) {
	for _, d := range o.Data {
		if !d.HasAnnotation {
			continue
		}
		if i == 0 {
			return newAnnotationReader(d.Annotation), true
		}
		i--
	}
	return nil, false
}

func (o *Object) String() string {
	return fmt.Sprintf("object(%s)", o.Class.Name)
}

// Array is a deserialized Java array. Byte arrays are kept in Bytes, all
// other element types in Values.
type Array struct {
	Class  *ClassDesc
	Bytes  []byte
	Values []any
}

// Len returns the number of elements.
func (a *Array) Len() int {
	if a.Bytes != nil {
		return len(a.Bytes)
	}
	return len(a.Values)
}

// Enum is a deserialized enum constant.
type Enum struct {
	Class    *ClassDesc
	Constant string
}

// Class is a deserialized java.lang.Class reference.
type Class struct {
	Desc *ClassDesc
}

// BlockData is a chunk of raw bytes written with the block-data mode.
type BlockData []byte

// TypeName returns a short human readable name for a decoded value.
func TypeName(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case *Object:
		return t.String()
	case *Array:
		if t.Class == nil {
			return "array"
		}
		return fmt.Sprintf("array(%s)", t.Class.Name)
	case *Enum:
		if t.Class == nil {
			return "enum"
		}
		return fmt.Sprintf("enum(%s)", t.Class.Name)
	case *Class:
		return "class"
	case *ClassDesc:
		return "classdesc"
	case BlockData:
		return "blockdata"
	default:
		return fmt.Sprintf("%T", v)
	}
}
