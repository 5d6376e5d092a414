//go:build !unix

package udp

func enableBroadcast(uintptr) error { return nil }
