package domain

// Stage names a measured step of a unit.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageMonitor  Stage = "monitor"
	StageSimulate Stage = "simulate"
	StageSubmit   Stage = "submit"
	StageUnit     Stage = "unit"
)

// LatencySample is one timed step.
// Corresponds to the latency_samples table in ClickHouse.
type LatencySample struct {
	RunID       string
	Key         string
	Stage       Stage
	Monitor     string // empty unless Stage is monitor
	ElapsedUs   int64
	TimestampMs int64
}
