//go:build !unix

package transport

import "syscall"

func errnoName(syscall.Errno) string { return "" }
