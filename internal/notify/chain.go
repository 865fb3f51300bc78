package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HeadStore remembers the hash of the last completion event emitted for each
// output location, so consecutive runs into the same prefix form a chain.
type HeadStore interface {
	// LastEventHash returns "" when output has no earlier event.
	LastEventHash(ctx context.Context, output string) (string, error)
	SaveEventHash(ctx context.Context, runID, eventHash string) error
}

// ComputeEventHash digests what a consumer relies on: the link to the
// previous event, the run identity and interval, and every object key with
// its checksum and size. Timestamps and the event ID are left out.
func ComputeEventHash(evt *Event) string {
	h := sha256.New()
	fmt.Fprintf(h, "prev=%s\n", evt.Chain.PrevEventHash)
	fmt.Fprintf(h, "run=%s output=%s\n", evt.Run.RunID, evt.Run.Output)
	fmt.Fprintf(h, "interval=%s..%s currencies=%s\n",
		evt.Run.StartDate, evt.Run.EndDate, strings.Join(evt.Run.Currencies, ","))
	for _, obj := range evt.Objects {
		fmt.Fprintf(h, "object=%s %s %d\n", obj.Key, obj.Checksum, obj.ByteSize)
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
