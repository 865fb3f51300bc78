// Package storage writes raw payload objects to partitioned object storage.
package storage

import (
	"fmt"
	"path"
	"time"
)

const dateLayout = "2006-01-02"

// PartitionRef describes the year/month partition of one chunk's payload.
// Year and month are taken from the start date; chunks never span months.
type PartitionRef struct {
	Start time.Time
	End   time.Time
}

// Filename returns the object name, encoding both chunk boundaries.
func (r PartitionRef) Filename() string {
	return fmt.Sprintf("timeframe_%s_to_%s.json",
		r.Start.Format(dateLayout), r.End.Format(dateLayout))
}

// DirPath returns the partition directory under prefix.
func (r PartitionRef) DirPath(prefix string) string {
	return path.Join(prefix,
		fmt.Sprintf("year=%04d", r.Start.Year()),
		fmt.Sprintf("month=%02d", int(r.Start.Month())))
}

// Path returns the object key under prefix:
// <prefix>/year=YYYY/month=MM/timeframe_<start>_to_<end>.json
func (r PartitionRef) Path(prefix string) string {
	return path.Join(r.DirPath(prefix), r.Filename())
}
