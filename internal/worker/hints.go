package worker

import (
	"regexp"
	"strings"
)

var missingModuleRe = regexp.MustCompile(`Cannot find module '([^']+)'`)

// Diagnose maps well-known failure signatures in build output to a short
// actionable hint. Returns an empty string when nothing matches.
func Diagnose(output string) string {
	if m := missingModuleRe.FindStringSubmatch(output); m != nil {
		return "Module '" + m[1] + "' was not found. Add it to your dependencies and commit the updated lockfile."
	}
	if strings.Contains(output, "Type error:") {
		return "The build failed on a TypeScript type error. Fix the reported type error or exclude the file from the build."
	}
	if strings.Contains(output, "JavaScript heap out of memory") {
		return "The build ran out of memory. Reduce the build's memory usage or raise NODE_OPTIONS=--max-old-space-size."
	}
	if strings.Contains(output, "Missing script:") || strings.Contains(output, "missing script:") {
		return "The configured script does not exist in package.json. Check the project's build command setting."
	}
	if strings.Contains(output, "ELIFECYCLE") {
		return "A package script exited with an error. Inspect the log above for the failing command."
	}
	return ""
}

// FailureMessage combines the raw error with an optional hint.
func FailureMessage(err error, output string) string {
	msg := err.Error()
	if hint := Diagnose(output); hint != "" {
		msg += "\nHint: " + hint
	}
	return msg
}
