package backend

import (
	"encoding/binary"
	"os"
)

// readResultFile recovers the C0 main return value. The runtime writes a
// NUL byte followed by a native-endian int32 to $C0_RESULT_FILE; anything
// else (missing file, short write, no NUL) means no value was recorded.
func readResultFile(path string) *int {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	if len(data) != 5 || data[0] != 0 {
		return nil
	}
	v := int(int32(binary.NativeEndian.Uint32(data[1:5])))
	return &v
}
