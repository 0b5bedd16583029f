//go:build !unix

package fs

func crossDevice(error) bool {
	return false
}
