package ops

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"
)

const backupTimeLayout = "2006-01-02_15-04-05"

var backupNameRE = regexp.MustCompile(`^(kbackup|incremental)-(\d{4}-\d\d-\d\d_\d\d-\d\d-\d\d)_\S+\.(kbi|zip)$`)

var (
	ErrUnrecognizedName = errors.New("unrecognized pattern of backup filename")
	ErrAmbiguousTime    = errors.New("ambiguous local time")
	ErrNonexistentTime  = errors.New("nonexistent local time")
)

// ParseBackupTime extracts the creation time embedded in a manifest or full
// backup filename, interpreted as wall time in loc. Wall times repeated by a
// DST fold or skipped by a DST gap are errors.
func ParseBackupTime(name string, loc *time.Location) (time.Time, error) {
	m := backupNameRE.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnrecognizedName, name)
	}
	if loc == nil {
		loc = time.Local
	}
	wall, err := time.ParseInLocation(backupTimeLayout, m[2], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("error parsing date from filename %s: %w", name, err)
	}

	// Zone transitions are far more than a day apart, so the offsets in
	// effect a day either side cover every reading of the wall time.
	var offsets []int
	for _, probe := range []time.Time{wall.Add(-24 * time.Hour), wall, wall.Add(24 * time.Hour)} {
		_, off := probe.In(loc).Zone()
		if !slices.Contains(offsets, off) {
			offsets = append(offsets, off)
		}
	}
	var matches []time.Time
	for _, off := range offsets {
		t := wall.Add(-time.Duration(off) * time.Second).In(loc)
		if _, got := t.Zone(); got != off || t.Format(backupTimeLayout) != m[2] {
			continue
		}
		if !slices.ContainsFunc(matches, t.Equal) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return time.Time{}, fmt.Errorf("%w: %s", ErrNonexistentTime, m[2])
	default:
		return time.Time{}, fmt.Errorf("%w: %s", ErrAmbiguousTime, m[2])
	}
}

// IsActive reports whether an entry created at created is still within the
// TTL window ending at cutoff.
func IsActive(created, cutoff time.Time) bool {
	return !created.Before(cutoff)
}

// LivenessSet maps entry names to their active flag for one archive run.
type LivenessSet map[string]bool

// Mark flags name active. It reports false when name is not in the set.
func (s LivenessSet) Mark(name string) bool {
	if _, ok := s[name]; !ok {
		return false
	}
	s[name] = true
	return true
}

// Active counts active entries.
func (s LivenessSet) Active() int {
	n := 0
	for _, active := range s {
		if active {
			n++
		}
	}
	return n
}

// Inactive returns the inactive names sorted.
func (s LivenessSet) Inactive() []string {
	var out []string
	for name, active := range s {
		if !active {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
