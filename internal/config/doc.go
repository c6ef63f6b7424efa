// Package config provides the configuration system for sensorbus.
//
// Settings are resolved in layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← SENSORBUS_BUS_MAX_WORKERS=8
//	├─────────────────────────────┤
//	│  2. Config File             │  ← sensorbus.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Validation runs after all layers are merged.
//
// # Sub-packages
//
//   - loader: TOML file and environment variable loading
//   - watcher: fsnotify file watching for live reload
//
// # Configuration Files
//
//	[bus]
//	buffer_capacity = 1024
//	max_workers = 100
//	idle_timeout = "10s"
//	saturation_timeout = "5s"
//	group_pending_capacity = 1024
//
//	[log]
//	level = "info"
//	format = "text"
//
// # Error Handling
//
//   - ErrInvalidConfig: matched by every *ValidationError
//   - ErrDecode: unknown key or wrong value type
//   - *loader.ParseError: TOML syntax error, with line and column
package config
