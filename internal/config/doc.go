// Package config loads, normalizes, and validates aoi configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AOI_IMAGE_DIR and AOI_CONTROLLER_ADDR. The same file drives both the
// controller and the station agent; each process reads only the sections it
// needs.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
