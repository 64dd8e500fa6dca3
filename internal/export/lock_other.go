//go:build !windows

package export

func isSharingViolation(error) bool { return false }
