package engine

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

var versionRx = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// DetectVersion runs "<binary> version" and returns the engine version as
// x.y.z. It is called once at startup and the result is cached.
func DetectVersion(ctx context.Context, binary string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, "version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s version: %w", binary, err)
	}

	version, ok := parseVersion(string(out))
	if !ok {
		return "", fmt.Errorf("no version found in output of %s", binary)
	}
	return version, nil
}

// parseVersion coerces the first version-like token of output to x.y.z
func parseVersion(output string) (string, bool) {
	match := versionRx.FindString(output)
	if match == "" {
		return "", false
	}

	parts := strings.Split(match, ".")
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", false
		}
		parts[i] = strconv.Itoa(n)
	}

	v := "v" + strings.Join(parts, ".")
	if !semver.IsValid(v) {
		return "", false
	}

	// Canonical pads a missing patch with .0
	return strings.TrimPrefix(semver.Canonical(v), "v"), true
}
