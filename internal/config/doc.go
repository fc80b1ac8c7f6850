// Package config loads and validates pubsweep's TOML configuration.
//
// Load resolves the file from an explicit path, ~/.config/pubsweep/config.toml,
// or ./pubsweep.toml, applies defaults, expands paths, fills PUBSWEEP_*
// overrides from the environment or an optional dotenv file, and validates the
// result. Chunk size, output root, manifest directory and at least one pipeline
// are mandatory: a pass cannot plan chunks or locate outputs without them.
//
// Each pipeline lists its output naming conventions in priority order. The first
// convention is where new work writes; the rest exist only so older outputs can
// still be counted.
package config
