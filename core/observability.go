package core

// GateStats is a point-in-time view of a ConcurrencyGate.
type GateStats struct {
	Max      int
	InFlight int
	Waiting  int
}

// RouterStats represents runtime observability state for a TaskRouter.
type RouterStats struct {
	Name   string
	Tasks  int
	Routed int64
	Failed int64
	Gate   GateStats
}

// PoolStats represents runtime observability state for a worker pool.
type PoolStats struct {
	ID      string
	Workers int
	Queued  int
	Active  int
	Running bool
}
