package engine

import "time"

// Stats is a point-in-time view of a LogBuffer.
type Stats struct {
	State          State            `json:"state"`
	Records        int              `json:"records"`
	Flushed        int              `json:"flushed"`
	Dirty          bool             `json:"dirty"`
	LabelDist      map[string]int64 `json:"label_dist"` // e.g. "error": 3
	Uploads        int64            `json:"uploads"`
	UploadFailures int64            `json:"upload_failures"`
	LastUpload     time.Time        `json:"last_upload"` // zero until the first success
}

// counters are updated under LogBuffer.mu.
type counters struct {
	labels         map[string]int64
	uploads        int64
	uploadFailures int64
	lastUpload     time.Time
}

func (c *counters) countLabel(label string) {
	if c.labels == nil {
		c.labels = make(map[string]int64)
	}
	c.labels[label]++
}

func (c *counters) countUpload(err error, now time.Time) {
	if err != nil {
		c.uploadFailures++
		return
	}
	c.uploads++
	c.lastUpload = now
}

// Stats returns a snapshot of the buffer counters.
func (lb *LogBuffer) Stats() Stats {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	dist := make(map[string]int64, len(lb.stats.labels))
	for label, n := range lb.stats.labels {
		dist[label] = n
	}
	return Stats{
		State:          lb.State(),
		Records:        len(lb.records),
		Flushed:        lb.flushed,
		Dirty:          lb.dirty,
		LabelDist:      dist,
		Uploads:        lb.stats.uploads,
		UploadFailures: lb.stats.uploadFailures,
		LastUpload:     lb.stats.lastUpload,
	}
}
