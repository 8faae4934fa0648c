/*
Copyright 2023 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package assist

import "regexp"

// dangerousPatterns is the fixed list of high risk command shapes. The
// classifier is a pure function of the command text against this list.
var dangerousPatterns = []*regexp.Regexp{
	// Recursive removal at or near the filesystem root.
	regexp.MustCompile(`\brm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)\s+(/|/\*)(\s|$)`),
	regexp.MustCompile(`\brm\s+-[a-zA-Z]*r[a-zA-Z]*\s+(/|/\*)(\s|$)`),
	// Raw writes to block devices.
	regexp.MustCompile(`\bdd\s+[^|;]*\bif=`),
	regexp.MustCompile(`>\s*/dev/[sh]d[a-z]`),
	// Filesystem and partition table surgery.
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`\bfdisk\b`),
	// Machine state.
	regexp.MustCompile(`\bshutdown\b`),
	regexp.MustCompile(`\breboot\b`),
	regexp.MustCompile(`\bhalt\b`),
	regexp.MustCompile(`\bpoweroff\b`),
	// Process massacres.
	regexp.MustCompile(`\bkill\s+(-9\s+)?1(\s|$)`),
	regexp.MustCompile(`\bpkill\s+-f\b`),
	regexp.MustCompile(`\bkillall\b`),
}

// IsDangerousCommand reports whether the command matches the high risk
// pattern list. Same input always yields the same output.
func IsDangerousCommand(command string) bool {
	for _, pattern := range dangerousPatterns {
		if pattern.MatchString(command) {
			return true
		}
	}
	return false
}
