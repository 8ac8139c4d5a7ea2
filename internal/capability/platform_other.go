//go:build !linux

package capability

// Platform returns the facilities available on this OS.
func Platform() Set {
	return Set{}.WithDefaults()
}
