// Package config holds the two startup-derived settings the command surface
// can read back through CONFIG GET: the snapshot directory and filename.
// There is no CONFIG SET and no file format; values are fixed at process
// start from CLI flags.
package config

import "strings"

// Config is a small, read-only (after construction) name/value registry.
type Config struct {
	fields map[string]string
}

// New builds a Config from the server's startup directory and snapshot
// filename, applying the same defaults the bootstrap CLI advertises.
func New(dir, dbfilename string) *Config {
	if dir == "" {
		dir = "/tmp/redisd"
	}
	if dbfilename == "" {
		dbfilename = "dump.rdb"
	}
	return &Config{fields: map[string]string{
		"dir":        dir,
		"dbfilename": dbfilename,
	}}
}

// Get returns the value for name (case-insensitive), or "" if name is not a
// recognized field.
func (c *Config) Get(name string) string {
	return c.fields[strings.ToLower(name)]
}
