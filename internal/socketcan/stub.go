//go:build !linux

// Package socketcan is only functional on linux; other builds get no device.
package socketcan
