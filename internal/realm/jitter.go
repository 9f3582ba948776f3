package realm

import "time"

const jitterWindowSize = 32

// jitterWindow keeps a rolling window of (server_now - message_ts)
// samples per player so clients can smooth animations.
type jitterWindow struct {
	samples [jitterWindowSize]time.Duration
	next    int
	count   int
}

func (j *jitterWindow) observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	j.samples[j.next] = d
	j.next = (j.next + 1) % len(j.samples)
	if j.count < len(j.samples) {
		j.count++
	}
}

// estimate is the window mean.
func (j *jitterWindow) estimate() time.Duration {
	if j.count == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < j.count; i++ {
		sum += j.samples[i]
	}
	return sum / time.Duration(j.count)
}
