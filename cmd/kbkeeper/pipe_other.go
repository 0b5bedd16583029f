//go:build !unix

package main

func ignoreSIGPIPE() {}

func isBrokenPipe(error) bool {
	return false
}
