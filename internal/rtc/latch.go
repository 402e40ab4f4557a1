// Package rtc owns the WebRTC media transport: peer connection setup with a
// constrained port range, relay-only candidate policy with public IP
// substitution, and paced sample tracks fed from the lip-sync pipeline.
package rtc

import (
	"sync"
	"time"
)

// SyncLatch coordinates the shared playback start instant for the audio and
// video pacers. Both tracks idle until the pipeline's prebuffer fills and
// Trigger fires; from then on frame n of video is due at T0+n*40ms and frame
// n of audio at T0+n*20ms, so the streams cannot drift apart at the start.
type SyncLatch struct {
	once sync.Once
	t0   time.Time
	ch   chan struct{}
}

// NewSyncLatch returns an untriggered latch.
func NewSyncLatch() *SyncLatch {
	return &SyncLatch{ch: make(chan struct{})}
}

// Trigger records T0 and releases all waiters. Subsequent calls are no-ops.
func (l *SyncLatch) Trigger() {
	l.once.Do(func() {
		l.t0 = time.Now()
		close(l.ch)
	})
}

// Done returns a channel that is closed once the latch has been triggered.
func (l *SyncLatch) Done() <-chan struct{} {
	return l.ch
}

// T0 returns the playback start instant and whether the latch has fired.
func (l *SyncLatch) T0() (time.Time, bool) {
	select {
	case <-l.ch:
		return l.t0, true
	default:
		return time.Time{}, false
	}
}
