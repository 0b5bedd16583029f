package manifest

import (
	"errors"
	"fmt"
	"time"

	"github.com/kk-code-lab/kbkeeper/internal/jserial"
)

const (
	javaTimeSerClass = "java.time.Ser"

	serZonedDateTime = 6
	serZoneRegion    = 7
	serZoneOffset    = 8
)

var errUnsupportedTime = errors.New("unsupported java.time value")

// zonedDateTimeField decodes backupTime leniently: older manifests carry
// no value and anything unreadable is treated the same way.
func zonedDateTimeField(dst **time.Time) fieldDecoder {
	return func(_ string, v any) error {
		t, err := decodeZonedDateTime(v)
		if err != nil {
			*dst = nil
			return nil
		}
		*dst = t
		return nil
	}
}

func decodeZonedDateTime(v any) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	obj, ok := v.(*jserial.Object)
	if !ok || obj.Class.Name != javaTimeSerClass {
		return nil, fmt.Errorf("%w: %s", errUnsupportedTime, jserial.TypeName(v))
	}
	ann, ok := obj.Annotation(0)
	if !ok {
		return nil, errUnsupportedTime
	}
	kind, err := ann.ReadByte()
	if err != nil {
		return nil, err
	}
	if kind != serZonedDateTime {
		return nil, fmt.Errorf("%w: type %d", errUnsupportedTime, kind)
	}

	year, err := ann.ReadInt32()
	if err != nil {
		return nil, err
	}
	month, err := ann.ReadByte()
	if err != nil {
		return nil, err
	}
	day, err := ann.ReadByte()
	if err != nil {
		return nil, err
	}
	hour, minute, second, nano, err := readLocalTime(ann)
	if err != nil {
		return nil, err
	}
	offset, err := readZoneOffset(ann)
	if err != nil {
		return nil, err
	}
	zoneKind, err := ann.ReadByte()
	if err != nil {
		return nil, err
	}

	t := time.Date(int(year), time.Month(month), int(day), hour, minute, second, nano, time.FixedZone("", offset))
	switch zoneKind {
	case serZoneRegion:
		id, err := ann.ReadUTF()
		if err != nil {
			return nil, err
		}
		if loc, err := time.LoadLocation(id); err == nil {
			t = t.In(loc)
		}
	case serZoneOffset:
		if _, err := readZoneOffset(ann); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: zone type %d", errUnsupportedTime, zoneKind)
	}
	return &t, nil
}

// readLocalTime reads the compact LocalTime form, where the last non-zero
// unit is stored bit-inverted and the remaining units are omitted.
func readLocalTime(ann *jserial.AnnotationReader) (hour, minute, second, nano int, err error) {
	b, err := ann.ReadByte()
	if err != nil {
		return
	}
	if hour = int(int8(b)); hour < 0 {
		return ^hour, 0, 0, 0, nil
	}
	if b, err = ann.ReadByte(); err != nil {
		return
	}
	if minute = int(int8(b)); minute < 0 {
		return hour, ^minute, 0, 0, nil
	}
	if b, err = ann.ReadByte(); err != nil {
		return
	}
	if second = int(int8(b)); second < 0 {
		return hour, minute, ^second, 0, nil
	}
	n, err := ann.ReadInt32()
	return hour, minute, second, int(n), err
}

func readZoneOffset(ann *jserial.AnnotationReader) (int, error) {
	b, err := ann.ReadByte()
	if err != nil {
		return 0, err
	}
	if quarters := int8(b); quarters != 127 {
		return int(quarters) * 900, nil
	}
	secs, err := ann.ReadInt32()
	return int(secs), err
}
