package models

// FrameSender delivers encoded frames to a connected rank.
type FrameSender interface {
	SendFrame(frame []byte)
}

// A process of a job connected to the hub.
type Rank struct {
	ID     int
	Sender FrameSender

	received int
}

// Received returns the number of frames delivered to the rank.
func (r *Rank) Received() int {
	return r.received
}
