package pipeline

import (
	"errors"
	"log/slog"
	"sort"

	"receipts/internal"
)

// Report accumulates per-item outcomes of a run. Failures never stop a batch;
// they are listed here and decide the exit status.
type Report struct {
	outcomes []internal.Outcome
	counts   map[string]int
}

func NewReport() *Report {
	return &Report{counts: map[string]int{}}
}

func (r *Report) Add(o internal.Outcome) {
	r.outcomes = append(r.outcomes, o)
	r.counts[o.Status]++
}

// Fail records err against o, classifying dispatch misses as unhandled, and
// returns the stored outcome.
func (r *Report) Fail(o internal.Outcome, err error) internal.Outcome {
	o.Status = internal.OutcomeFailed
	if errors.Is(err, ErrUnhandled) {
		o.Status = internal.OutcomeUnhandled
	}
	if err != nil {
		o.Detail = err.Error()
	}
	r.Add(o)
	return o
}

func (r *Report) Outcomes() []internal.Outcome { return r.outcomes }

// Counts returns a copy of the per-status counters.
func (r *Report) Counts() map[string]int {
	out := make(map[string]int, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

func (r *Report) Failures() []internal.Outcome {
	var out []internal.Outcome
	for _, o := range r.outcomes {
		if o.Status == internal.OutcomeFailed || o.Status == internal.OutcomeUnhandled {
			out = append(out, o)
		}
	}
	return out
}

func (r *Report) HasFailures() bool {
	return r.counts[internal.OutcomeFailed]+r.counts[internal.OutcomeUnhandled] > 0
}

// Log writes the end-of-run summary followed by one line per failure.
func (r *Report) Log(log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	statuses := make([]string, 0, len(r.counts))
	for s := range r.counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	attrs := make([]any, 0, 2*len(statuses)+2)
	attrs = append(attrs, "total", len(r.outcomes))
	for _, s := range statuses {
		attrs = append(attrs, s, r.counts[s])
	}
	log.Info("run summary", attrs...)

	for _, o := range r.Failures() {
		log.Warn("needs manual handling",
			"status", o.Status,
			"server", o.Server,
			"handler", o.Handler,
			"subject", o.Subject,
			"file", o.File,
			"detail", o.Detail,
		)
	}
}
