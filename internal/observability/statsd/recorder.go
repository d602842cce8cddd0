package statsd

import (
	"maps"
	"sync"
	"time"
)

// Sample is one metric captured by a Recorder.
type Sample struct {
	Name  string
	Kind  string // "c", "g" or "ms"
	Value float64
	Tags  map[string]string
}

// Recorder keeps metrics in memory in place of a client.
type Recorder struct {
	mu      sync.Mutex
	samples []Sample
}

var _ Sink = (*Recorder)(nil)

func (r *Recorder) add(name, kind string, value float64, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, Sample{Name: name, Kind: kind, Value: value, Tags: maps.Clone(tags)})
}

// Count records a counter.
func (r *Recorder) Count(name string, value int64, tags map[string]string) {
	r.add(name, "c", float64(value), tags)
}

// Gauge records a gauge.
func (r *Recorder) Gauge(name string, value float64, tags map[string]string) {
	r.add(name, "g", value, tags)
}

// Timing records a timing in milliseconds.
func (r *Recorder) Timing(name string, value time.Duration, tags map[string]string) {
	r.add(name, "ms", float64(value)/float64(time.Millisecond), tags)
}

// Samples returns the samples recorded under name, oldest first.
func (r *Recorder) Samples(name string) []Sample {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Sample
	for _, s := range r.samples {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether anything was recorded under name.
func (r *Recorder) Has(name string) bool { return len(r.Samples(name)) > 0 }
