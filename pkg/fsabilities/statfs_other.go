//go:build !linux

package fsabilities

func coarseTimestamps(path string) bool { return false }
