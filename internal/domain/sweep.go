package domain

// SweepStats summarises one pass over abandoned work.
type SweepStats struct {
	Redispatched int
	Completed    int
	Failed       int
}
