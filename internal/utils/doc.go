// Package utils contains process-wide helpers: the leveled logger and the
// optional NAT gateway port mapping used when serving on all interfaces.
package utils
