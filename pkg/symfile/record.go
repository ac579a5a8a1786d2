package symfile

import "strconv"

// parseHex parses a breakpad-format hex address/size field: unsigned and
// without a "0x" prefix, since the format omits it (ParseUint with base 16
// rejects a prefixed field).
func parseHex(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

func parseDec(s string) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	return v, err == nil
}
