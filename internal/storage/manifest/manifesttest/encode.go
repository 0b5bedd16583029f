// Package manifesttest writes .kbi fixtures in the layout KBackup-Fabric
// produces: a Java serialization stream holding one SavedIncBackupV1.
package manifesttest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/kk-code-lab/kbkeeper/internal/jserial"
	"github.com/kk-code-lab/kbkeeper/internal/storage/manifest"
	"github.com/kk-code-lab/kbkeeper/internal/storage/objectid"
)

const pkg = "com.keuin.kbackupfabric.backup.incremental."

var (
	HashMapClass = &jserial.ClassSpec{
		Name:  "java.util.HashMap",
		UID:   362498820763181265,
		Flags: jserial.FlagSerializable | jserial.FlagWriteMethod,
		Fields: []jserial.FieldDesc{
			{Type: jserial.TypeFloat, Name: "loadFactor"},
			{Type: jserial.TypeInt, Name: "threshold"},
		},
	}
	TimeSerClass = &jserial.ClassSpec{
		Name:  "java.time.Ser",
		UID:   -7683839454370182917,
		Flags: jserial.FlagExternalizable | jserial.FlagBlockData,
	}
	IdentifierClass = &jserial.ClassSpec{
		Name:  pkg + "identifier.SingleHashIdentifier",
		UID:   1,
		Flags: jserial.FlagSerializable,
		Fields: []jserial.FieldDesc{
			{Type: jserial.TypeArray, Name: "hash", ClassName: "[B"},
			{Type: jserial.TypeObject, Name: "type", ClassName: "Ljava/lang/String;"},
		},
	}
	Sha256Class = &jserial.ClassSpec{
		Name:  pkg + "identifier.Sha256Identifier",
		UID:   968324214777435054,
		Flags: jserial.FlagSerializable,
		Super: IdentifierClass,
	}
	ElementClass = &jserial.ClassSpec{
		Name:  pkg + "ObjectElement",
		UID:   268304683651745899,
		Flags: jserial.FlagSerializable,
		Fields: []jserial.FieldDesc{
			{Type: jserial.TypeObject, Name: "identifier", ClassName: "L" + slash(pkg) + "identifier/ObjectIdentifier;"},
			{Type: jserial.TypeObject, Name: "name", ClassName: "Ljava/lang/String;"},
		},
	}
	CollectionClass = &jserial.ClassSpec{
		Name:  pkg + "ObjectCollection2",
		UID:   6651743898782813296,
		Flags: jserial.FlagSerializable,
		Fields: []jserial.FieldDesc{
			{Type: jserial.TypeObject, Name: "elements", ClassName: "Ljava/util/Map;"},
			{Type: jserial.TypeObject, Name: "name", ClassName: "Ljava/lang/String;"},
			{Type: jserial.TypeObject, Name: "subCollections", ClassName: "Ljava/util/Map;"},
		},
	}
	BackupClass = &jserial.ClassSpec{
		Name:  pkg + "manager.SavedIncBackupV1",
		UID:   -2764089356208405829,
		Flags: jserial.FlagSerializable,
		Fields: []jserial.FieldDesc{
			{Type: jserial.TypeInt, Name: "filesAdded"},
			{Type: jserial.TypeLong, Name: "increasedSizeBytes"},
			{Type: jserial.TypeInt, Name: "totalFiles"},
			{Type: jserial.TypeLong, Name: "totalSizeBytes"},
			{Type: jserial.TypeObject, Name: "backupName", ClassName: "Ljava/lang/String;"},
			{Type: jserial.TypeObject, Name: "backupTime", ClassName: "Ljava/time/ZonedDateTime;"},
			{Type: jserial.TypeObject, Name: "objectCollection2", ClassName: "L" + slash(pkg) + "ObjectCollection2;"},
		},
	}
)

func slash(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c == '.' {
			b[i] = '/'
		}
	}
	return string(b)
}

// Object returns the element for content, named by its SHA-256 digest.
func Object(name string, content []byte) manifest.Element {
	sum := sha256.Sum256(content)
	return manifest.Element{Name: name, Identifier: objectid.New(objectid.SHA256, sum[:])}
}

// Dir builds a collection from elements and sub-collections keyed by name.
func Dir(name string, elements []manifest.Element, subs ...manifest.Collection) manifest.Collection {
	c := manifest.Collection{
		Name:           name,
		Elements:       make(map[string]manifest.Element, len(elements)),
		SubCollections: make(map[string]manifest.Collection, len(subs)),
	}
	for _, e := range elements {
		c.Elements[e.Name] = e
	}
	for _, s := range subs {
		c.SubCollections[s.Name] = s
	}
	return c
}

// Write serializes m as SavedIncBackupV1.
func Write(w io.Writer, m *manifest.BackupManifest) error {
	e := jserial.NewEncoder(w)
	WriteBackup(e, m)
	return e.Flush()
}

// Bytes is Write into memory.
func Bytes(m *manifest.BackupManifest) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, m)
	return buf.Bytes()
}

// WriteFile writes m to path.
func WriteFile(path string, m *manifest.BackupManifest) error {
	return os.WriteFile(path, Bytes(m), 0o644)
}

func WriteBackup(e *jserial.Encoder, m *manifest.BackupManifest) {
	e.BeginObject(BackupClass)
	e.Int32(m.FilesAdded)
	e.Int64(m.IncreasedSizeBytes)
	e.Int32(m.TotalFiles)
	e.Int64(m.TotalSizeBytes)
	e.WriteString(m.BackupName)
	if m.BackupTime == nil {
		e.WriteNull()
	} else {
		WriteZonedDateTime(e, *m.BackupTime)
	}
	WriteCollection(e, m.Root)
}

func WriteCollection(e *jserial.Encoder, c manifest.Collection) {
	e.BeginObject(CollectionClass)
	WriteHashMap(e, len(c.Elements), func() {
		for _, key := range slices.Sorted(maps.Keys(c.Elements)) {
			e.WriteString(key)
			WriteElement(e, c.Elements[key])
		}
	})
	e.WriteString(c.Name)
	WriteHashMap(e, len(c.SubCollections), func() {
		for _, key := range slices.Sorted(maps.Keys(c.SubCollections)) {
			e.WriteString(key)
			WriteCollection(e, c.SubCollections[key])
		}
	})
}

func WriteElement(e *jserial.Encoder, el manifest.Element) {
	e.BeginObject(ElementClass)
	e.BeginObject(Sha256Class)
	e.WriteByteArray(el.Identifier.Digest())
	e.WriteString(el.Identifier.Algorithm())
	e.WriteString(el.Name)
}

// WriteHashMap writes java.util.HashMap the way its writeObject does:
// loadFactor and threshold, then a block with capacity and size, then the
// entries written by entries.
func WriteHashMap(e *jserial.Encoder, size int, entries func()) {
	capacity := int32(16)
	for float32(size) > float32(capacity)*0.75 {
		capacity <<= 1
	}
	e.BeginObject(HashMapClass)
	e.Float32(0.75)
	e.Int32(int32(float32(capacity) * 0.75))
	block := binary.BigEndian.AppendUint32(nil, uint32(capacity))
	block = binary.BigEndian.AppendUint32(block, uint32(size))
	e.WriteBlockData(block)
	entries()
	e.EndBlockData()
}

// WriteZonedDateTime writes t through java.time.Ser. A location that
// resolves as an IANA name is written as a region, anything else as a
// fixed offset.
func WriteZonedDateTime(e *jserial.Encoder, t time.Time) {
	var b []byte
	b = append(b, 6)
	b = binary.BigEndian.AppendUint32(b, uint32(int32(t.Year())))
	b = append(b, byte(t.Month()), byte(t.Day()))
	b = appendLocalTime(b, t)
	_, offset := t.Zone()
	b = appendOffset(b, offset)
	name := t.Location().String()
	if _, err := time.LoadLocation(name); err == nil && name != "Local" && name != "" {
		b = append(b, 7)
		b = binary.BigEndian.AppendUint16(b, uint16(len(name)))
		b = append(b, name...)
	} else {
		b = append(b, 8)
		b = appendOffset(b, offset)
	}
	e.BeginObject(TimeSerClass)
	e.WriteBlockData(b)
	e.EndBlockData()
}

func appendLocalTime(b []byte, t time.Time) []byte {
	h, m, s, n := t.Hour(), t.Minute(), t.Second(), t.Nanosecond()
	switch {
	case n != 0:
		b = append(b, byte(h), byte(m), byte(s))
		return binary.BigEndian.AppendUint32(b, uint32(n))
	case s != 0:
		return append(b, byte(h), byte(m), ^byte(s))
	case m != 0:
		return append(b, byte(h), ^byte(m))
	default:
		return append(b, ^byte(h))
	}
}

func appendOffset(b []byte, secs int) []byte {
	if secs%900 == 0 {
		return append(b, byte(int8(secs/900)))
	}
	b = append(b, 127)
	return binary.BigEndian.AppendUint32(b, uint32(int32(secs)))
}
