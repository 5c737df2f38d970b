package ipc

import (
	"fmt"
	"os"

	"mmapipc.dev/ipc/internal/layout"
)

// ResetFile performs the manual recovery the spec assumes a human or
// supervisor does after a crashed endpoint leaves a role bit set (§4.6,
// §7, §9): it zeros the global Sign word, releasing both OPA and OPB, so a
// fresh pair of endpoints can attach. It does not touch ring contents or
// cursors.
//
// ResetFile must not be called while either endpoint is actually still
// attached and operating; the library has no way to distinguish a crashed
// peer from a live one, so this is an explicit, out-of-band operation, not
// something Open performs automatically.
func ResetFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("mmapipc: reset %s: %w", path, err)
	}
	if info.Size() < layout.GlobalHeaderSize {
		return fmt.Errorf("mmapipc: reset %s: file too small to be an mmapipc file", path)
	}

	m, _, err := layout.Open(path, 0)
	if err != nil {
		return err
	}
	defer m.Close()

	m.SetSign(0)
	return nil
}
