package mining

// Solution is an emitted share: a nonce whose digest's trailing 64-bit word
// beat the target. It always carries the job id of the work item it was
// found under, even if a newer job has been published since.
type Solution struct {
	JobID  JobID
	Nonce  uint32
	Digest [32]byte
	PoolID int
}

// EventSink receives solutions from the workers. Implementations must not
// block the hot loop for long; the executor side owns any queueing.
type EventSink interface {
	PushSolution(Solution)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Solution)

// PushSolution calls f.
func (f SinkFunc) PushSolution(s Solution) { f(s) }

// countingSink wraps a sink and counts emissions for pool statistics.
type countingSink struct {
	next  EventSink
	count func()
}

func (c *countingSink) PushSolution(s Solution) {
	c.count()
	c.next.PushSolution(s)
}
