//go:build linux

package capability

// Platform returns the facilities available on this OS.  Linux gets a
// clipboard through helper commands; keystroke and screen capture are
// left to externally supplied implementations.
func Platform() Set {
	return Set{Clipboard: &CommandClipboard{}}.WithDefaults()
}
