package gitbackend

import "strings"

// ValidateRefName implements the C1 contract from spec §4.1: rejects
// full-path ref forms, empty names, control bytes, a leading '-', "..",
// "@{", and a trailing '/' or ".lock".
func ValidateRefName(name string) error {
	if name == "" {
		return New(KindInvalidRefName, "validate_ref_name", "", nil)
	}
	if strings.HasPrefix(name, "refs/") {
		return New(KindInvalidRefName, "validate_ref_name", "", nil)
	}
	if strings.HasPrefix(name, "-") {
		return New(KindInvalidRefName, "validate_ref_name", "", nil)
	}
	if strings.Contains(name, "..") {
		return New(KindInvalidRefName, "validate_ref_name", "", nil)
	}
	if strings.Contains(name, "@{") {
		return New(KindInvalidRefName, "validate_ref_name", "", nil)
	}
	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, ".lock") {
		return New(KindInvalidRefName, "validate_ref_name", "", nil)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return New(KindInvalidRefName, "validate_ref_name", "", nil)
		}
	}
	return nil
}
