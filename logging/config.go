package logging

// Config defines the `logging` extension section of memory.yml.
type Config struct {
	// Level is the minimum log level to output (e.g., "debug", "info", "warn", "error").
	// Can be overridden by the GROVE_MEMORY_LOG_LEVEL environment variable.
	Level string `yaml:"level" toml:"level" mapstructure:"level"`

	// ReportCaller, if true, includes the file, line, and function name in the log output.
	ReportCaller bool `yaml:"report_caller" toml:"report_caller" mapstructure:"report_caller"`

	// File configures logging to a file.
	File FileSinkConfig `yaml:"file" toml:"file" mapstructure:"file"`

	// Format configures the appearance of the log output.
	Format FormatConfig `yaml:"format" toml:"format" mapstructure:"format"`
}

// FileSinkConfig configures the file logging sink.
type FileSinkConfig struct {
	// Disabled turns off the default file sink under <root>/logs.
	Disabled bool `yaml:"disabled" toml:"disabled" mapstructure:"disabled"`
	// Path overrides the log file location.
	Path string `yaml:"path" toml:"path" mapstructure:"path"`
}

// FormatConfig controls the log output format.
type FormatConfig struct {
	// Preset can be "default" (rich text), "simple" (minimal text), or "json".
	Preset           string `yaml:"preset" toml:"preset" mapstructure:"preset"`
	DisableTimestamp bool   `yaml:"disable_timestamp" toml:"disable_timestamp" mapstructure:"disable_timestamp"`
	DisableComponent bool   `yaml:"disable_component" toml:"disable_component" mapstructure:"disable_component"`
	// StructuredToStderr controls when logs are sent to stderr.
	// Can be "auto" (default), "always", or "never". Stdout is never used:
	// it carries the tool protocol.
	StructuredToStderr string `yaml:"structured_to_stderr" toml:"structured_to_stderr" mapstructure:"structured_to_stderr"`
}
