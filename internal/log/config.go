package log

// Config configures the global logger.
type Config struct {
	// Level is the minimum level to emit: debug, info, warn or error.
	Level string `conf:"level" yaml:"level" json:"level"`

	// Format selects the encoder: json or console.
	Format string `conf:"format" yaml:"format" json:"format"`
}
