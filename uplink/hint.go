package uplink

import (
	"strings"
)

// ExtractHint finds needle (e.g. "grouping=") inside data and returns the
// value that follows up to the next comma (or end of string), mirroring
// report_new_action's memmem-based parsing: needle must start the string
// or be preceded by a comma (so it isn't a false match inside an earlier
// value), and the extracted value is limited to 64 bytes of
// alphanumeric/-/_ characters. Returns ok=false if no valid hint is
// present.
func ExtractHint(data, needle string) (string, bool) {
	if needle == "" {
		return "", false
	}
	search := data
	offset := 0
	for {
		idx := strings.Index(search, needle)
		if idx < 0 {
			return "", false
		}
		pos := offset + idx
		if pos == 0 || data[pos-1] == ',' {
			return extractValue(data[pos+len(needle):])
		}
		// false positive: needle matched mid-value, keep searching after it
		offset = pos + len(needle)
		search = data[offset:]
	}
}

func extractValue(rest string) (string, bool) {
	end := strings.IndexByte(rest, ',')
	if end >= 0 {
		rest = rest[:end]
	}
	if len(rest) == 0 || len(rest) > 64 {
		return "", false
	}
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if isAlnum(c) || c == '-' || c == '_' {
			continue
		}
		return "", false
	}
	return rest, true
}

func isAlnum(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
