package fetcher

import "github.com/oshokin/device-update-agent/internal/domain/update"

// progressReporter rate-limits progress samples so a slow consumer is never
// flooded: one sample per whole percentage point when the total is known,
// one per unknownLengthStep bytes otherwise. Samples never decrease.
type progressReporter struct {
	total       int64
	sink        update.ProgressFunc
	lastPercent int
	lastStep    int64
}

func newProgressReporter(total int64, sink update.ProgressFunc) *progressReporter {
	if total < 0 {
		total = -1
	}

	return &progressReporter{
		total:       total,
		sink:        sink,
		lastPercent: -1,
		lastStep:    -1,
	}
}

// advance emits a sample when the transferred amount crossed a reporting
// boundary since the previous call.
func (r *progressReporter) advance(done int64) {
	if r.sink == nil {
		return
	}

	if r.total > 0 {
		percent := int(done * 100 / r.total)
		if percent > 100 {
			percent = 100
		}

		if percent == r.lastPercent {
			return
		}

		r.lastPercent = percent
		r.sink(update.Progress{BytesDone: done, BytesTotal: r.total, Percent: percent})

		return
	}

	step := done / unknownLengthStep
	if step == r.lastStep {
		return
	}

	r.lastStep = step
	r.sink(update.Progress{BytesDone: done, BytesTotal: -1, Percent: -1})
}

// finish emits the terminal sample once the body is fully written.
func (r *progressReporter) finish(done int64) {
	if r.sink == nil {
		return
	}

	if r.total > 0 {
		if r.lastPercent == 100 {
			return
		}

		r.lastPercent = 100
		r.sink(update.Progress{BytesDone: done, BytesTotal: r.total, Percent: 100})

		return
	}

	r.sink(update.Progress{BytesDone: done, BytesTotal: done, Percent: 100})
}
