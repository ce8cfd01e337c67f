// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided values that are
// embedded in storage keys. The snapshot store composes keys with ':'
// as the separator, so a version or tag carrying one would cross into
// another key range. Using these validators keeps lookups and deletes
// scoped to the value they were given.
package validation

import (
	"fmt"
	"regexp"
)

// MaxKeyComponentLength bounds versions and tags. Generously above the
// 36 characters of a UUID so hand-picked versions still fit.
const MaxKeyComponentLength = 128

// keyComponentPattern matches values safe to embed in a composed key:
// no ':' (the key separator) and no control characters.
var keyComponentPattern = regexp.MustCompile(`^[^:[:cntrl:]]{1,128}$`)

// ValidateVersion validates a snapshot version before it is embedded
// in a storage key.
//
// Valid versions:
//   - 1-128 characters
//   - No ':' and no control characters
//
// Returns an error if the version is invalid.
//
// Example:
//
//	if err := validation.ValidateVersion(version); err != nil {
//	    return fmt.Errorf("storing snapshot: %w", err)
//	}
//	// Safe to compose into a key
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("version cannot be empty")
	}
	if !keyComponentPattern.MatchString(version) {
		return fmt.Errorf("invalid version %q (must be 1-%d chars without ':' or control characters)",
			version, MaxKeyComponentLength)
	}
	return nil
}

// ValidateTag validates a snapshot tag. An empty tag is valid and
// means untagged.
func ValidateTag(tag string) error {
	if tag == "" {
		return nil
	}
	if !keyComponentPattern.MatchString(tag) {
		return fmt.Errorf("invalid tag %q (must be 1-%d chars without ':' or control characters)",
			tag, MaxKeyComponentLength)
	}
	return nil
}
