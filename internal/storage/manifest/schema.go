package manifest

import (
	"fmt"
	"strconv"

	"github.com/kk-code-lab/kbkeeper/internal/jserial"
	"github.com/kk-code-lab/kbkeeper/internal/storage/objectid"
)

// fieldDecoder converts one decoded stream value into its target.
type fieldDecoder func(path string, v any) error

// field binds a serialized field name to the decoder declared for it.
type field struct {
	name     string
	optional bool
	decode   fieldDecoder
}

func backupFields(m *BackupManifest) []field {
	return []field{
		{name: "objectCollection2", decode: objectField(func() []field { return collectionFields(&m.Root) })},
		{name: "backupName", decode: stringField(&m.BackupName)},
		{name: "backupTime", optional: true, decode: zonedDateTimeField(&m.BackupTime)},
		{name: "totalSizeBytes", decode: int64Field(&m.TotalSizeBytes)},
		{name: "increasedSizeBytes", decode: int64Field(&m.IncreasedSizeBytes)},
		{name: "filesAdded", decode: int32Field(&m.FilesAdded)},
		{name: "totalFiles", decode: int32Field(&m.TotalFiles)},
	}
}

// The two map fields are declared with hashMapField: the generic object
// path cannot rebuild java.util.HashMap, whose entries live only in its
// writeObject annotation.
func collectionFields(c *Collection) []field {
	return []field{
		{name: "name", decode: stringField(&c.Name)},
		{name: "elements", decode: hashMapField(&c.Elements, decodeElement)},
		{name: "subCollections", decode: hashMapField(&c.SubCollections, decodeCollection)},
	}
}

func elementFields(e *Element) []field {
	return []field{
		{name: "name", decode: stringField(&e.Name)},
		{name: "identifier", decode: identifierField(&e.Identifier)},
	}
}

func decodeElement(path string, v any) (Element, error) {
	var e Element
	err := decodeObject(path, v, elementFields(&e))
	return e, err
}

func decodeCollection(path string, v any) (Collection, error) {
	var c Collection
	err := decodeObject(path, v, collectionFields(&c))
	return c, err
}

func decodeObject(path string, v any, fields []field) error {
	obj, ok := v.(*jserial.Object)
	if !ok {
		return mismatch(path, "object", v)
	}
	for _, f := range fields {
		fieldPath := joinPath(path, f.name)
		fv, ok := obj.Field(f.name)
		if !ok {
			if f.optional {
				continue
			}
			return &DecodeError{Path: fieldPath, Err: ErrMissingField}
		}
		if err := f.decode(fieldPath, fv); err != nil {
			return err
		}
	}
	return nil
}

func objectField(fields func() []field) fieldDecoder {
	return func(path string, v any) error {
		return decodeObject(path, v, fields())
	}
}

func stringField(dst *string) fieldDecoder {
	return func(path string, v any) error {
		s, ok := v.(string)
		if !ok {
			return mismatch(path, "string", v)
		}
		*dst = s
		return nil
	}
}

func int64Field(dst *int64) fieldDecoder {
	return func(path string, v any) error {
		n, ok := v.(int64)
		if !ok {
			return mismatch(path, "long", v)
		}
		*dst = n
		return nil
	}
}

func int32Field(dst *int32) fieldDecoder {
	return func(path string, v any) error {
		n, ok := v.(int32)
		if !ok {
			return mismatch(path, "int", v)
		}
		*dst = n
		return nil
	}
}

func byteArrayField(dst *[]byte) fieldDecoder {
	return func(path string, v any) error {
		arr, ok := v.(*jserial.Array)
		if !ok || arr.Class.Name != "[B" {
			return mismatch(path, "byte[]", v)
		}
		*dst = arr.Bytes
		return nil
	}
}

// identifierField decodes a SingleHashIdentifier (type + hash) into its
// canonical form.
func identifierField(dst *objectid.ID) fieldDecoder {
	return func(path string, v any) error {
		var (
			tag  string
			hash []byte
		)
		err := decodeObject(path, v, []field{
			{name: "type", decode: stringField(&tag)},
			{name: "hash", decode: byteArrayField(&hash)},
		})
		if err != nil {
			return err
		}
		*dst = objectid.New(tag, hash)
		return nil
	}
}

// hashMapField reads java.util.HashMap's writeObject layout from the first
// annotation block: int capacity (ignored), int size, then size key/value
// object pairs.
func hashMapField[V any](dst *map[string]V, decodeValue func(path string, v any) (V, error)) fieldDecoder {
	return func(path string, v any) error {
		obj, ok := v.(*jserial.Object)
		if !ok {
			return mismatch(path, "java.util.HashMap", v)
		}
		ann, ok := obj.Annotation(0)
		if !ok {
			return &DecodeError{Path: path, Err: fmt.Errorf("%w: %s has no annotation", ErrMapLayout, obj.Class.Name)}
		}
		if _, err := ann.ReadInt32(); err != nil {
			return &DecodeError{Path: path, Err: fmt.Errorf("%w: capacity: %w", ErrMapLayout, err)}
		}
		n, err := ann.ReadInt32()
		if err != nil {
			return &DecodeError{Path: path, Err: fmt.Errorf("%w: size: %w", ErrMapLayout, err)}
		}
		if n < 0 {
			return &DecodeError{Path: path, Err: fmt.Errorf("%w: negative size %d", ErrMapLayout, n)}
		}
		out := make(map[string]V, min(int(n), 1<<16))
		for i := 0; i < int(n); i++ {
			kv, err := ann.ReadObject()
			if err != nil {
				return &DecodeError{Path: fmt.Sprintf("%s[%d]", path, i), Err: fmt.Errorf("%w: key: %w", ErrMapLayout, err)}
			}
			key, ok := kv.(string)
			if !ok {
				return mismatch(fmt.Sprintf("%s[%d]", path, i), "string key", kv)
			}
			entryPath := path + "[" + strconv.Quote(key) + "]"
			vv, err := ann.ReadObject()
			if err != nil {
				return &DecodeError{Path: entryPath, Err: fmt.Errorf("%w: value: %w", ErrMapLayout, err)}
			}
			if _, dup := out[key]; dup {
				return &DecodeError{Path: entryPath, Err: ErrDuplicateKey}
			}
			value, err := decodeValue(entryPath, vv)
			if err != nil {
				return err
			}
			out[key] = value
		}
		*dst = out
		return nil
	}
}

func mismatch(path, want string, got any) error {
	return &DecodeError{Path: path, Err: fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, want, jserial.TypeName(got))}
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
