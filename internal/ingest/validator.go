package ingest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/withObsrvr/obsrvr-fx-ingest/internal/source"
)

// Data fields that make a payload worth keeping. The live endpoint answers
// with quotes; older API versions used rates.
var dataFields = []string{"rates", "quotes"}

// Verdict classifies a fetched payload.
type Verdict struct {
	Usable bool
	Reason string // why the payload is skippable
}

// Skippable reports whether the payload should be excluded from writing.
func (v Verdict) Skippable() bool { return !v.Usable }

// Validate classifies payload as usable or skippable. A payload is usable when
// it is a JSON object carrying a non-empty rates or quotes field.
func Validate(payload source.Payload) Verdict {
	obj, ok := payload.(map[string]any)
	if !ok {
		return Verdict{Reason: fmt.Sprintf("unexpected type %T", payload)}
	}

	for _, field := range dataFields {
		if v, present := obj[field]; present && !source.IsEmpty(v) {
			return Verdict{Usable: true}
		}
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Verdict{Reason: fmt.Sprintf("no data fields (keys: %s)", strings.Join(keys, ", "))}
}
