package main

import (
	"errors"

	"evlake/internal/storage"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	switch {
	case errors.Is(err, storage.ErrBackendUnavailable):
		lines = append(lines,
			"hint: the remote volume backend needs an endpoint; set EVLAKE_VOLUME_ENDPOINT or remote_volume.endpoint in config.",
			"hint: tokens come from EVLAKE_VOLUME_TOKEN.",
		)
	case errors.Is(err, storage.ErrOutsideBoundary):
		lines = append(lines, "hint: paths must stay inside the configured evidence store; pass a path returned by a previous write or ls.")
	case errors.Is(err, storage.ErrNotFound):
		lines = append(lines, "hint: list stored paths with: evlake store ls <engagement-id>")
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
