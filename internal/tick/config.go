package tick

const (
	DefaultBatchSize          = 20
	DefaultTickIntervalFrames = 10
)

// Config controls how much work a fire does and how often fires happen.
type Config struct {
	BatchSize          int `json:"batch_size" toml:"batch_size" yaml:"batch_size"`
	TickIntervalFrames int `json:"tick_interval_frames" toml:"tick_interval_frames" yaml:"tick_interval_frames"`
}

// DefaultConfig returns 20 participants every 10 frames.
func DefaultConfig() Config {
	return Config{
		BatchSize:          DefaultBatchSize,
		TickIntervalFrames: DefaultTickIntervalFrames,
	}
}

// Validate rejects non-positive values.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return &ConfigError{Field: "batch_size", Value: c.BatchSize, Err: ErrInvalidBatchSize}
	}
	if c.TickIntervalFrames <= 0 {
		return &ConfigError{Field: "tick_interval_frames", Value: c.TickIntervalFrames, Err: ErrInvalidTickInterval}
	}
	return nil
}

// CoverageFires is the number of fires a static population of n needs
// before every participant has ticked at least once.
func (c Config) CoverageFires(n int) int {
	if n <= 0 || c.BatchSize <= 0 {
		return 0
	}
	return (n + c.BatchSize - 1) / c.BatchSize
}

// CoverageFrames is CoverageFires expressed in driver frames.
func (c Config) CoverageFrames(n int) int {
	return c.CoverageFires(n) * c.TickIntervalFrames
}
