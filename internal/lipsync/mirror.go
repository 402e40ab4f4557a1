// Package lipsync contains the streaming lip-sync pipeline: text fragments go
// in, paced video frames and 20 ms audio frames come out. The neural work is
// delegated to a lipsync.Engine; this package owns windowing, batching,
// silence handling, and compositing the generated mouth regions back onto the
// avatar's frame cycle.
package lipsync

// MirrorIndex maps a monotonically increasing frame counter onto a
// back-and-forth sweep over the avatar cycle, so the idle loop reverses
// direction at each end instead of jumping from the last frame to the first.
func MirrorIndex(size, index int) int {
	if size <= 0 {
		return 0
	}
	turn := index / size
	res := index % size
	if turn%2 == 0 {
		return res
	}
	return size - res - 1
}
