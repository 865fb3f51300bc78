package observe

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Progress renders a chunk progress bar to w. The bar is created when the
// run is planned and advances once per written or skipped chunk.
type Progress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewProgress returns a progress observer writing to w.
func NewProgress(w io.Writer) *Progress {
	return &Progress{w: w}
}

func (p *Progress) Observe(e Event) {
	switch e.Kind {
	case RunPlanned:
		p.bar = progressbar.NewOptions(e.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionSetDescription("chunks"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	case ChunkSkipped, ChunkWritten:
		if p.bar != nil {
			_ = p.bar.Add(1)
		}
	}
}

// Finish completes the bar, if one was started.
func (p *Progress) Finish() {
	if p.bar != nil {
		_ = p.bar.Finish()
	}
}
