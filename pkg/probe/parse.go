/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package probe

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// parseCommandOutput folds the output of one diagnostic command into metrics. Commands without
// a parser are kept as raw (already size-bounded) text.
func parseCommandOutput(cmd, out string, metrics map[string]any) error {
	trimmed := strings.TrimSpace(cmd)

	switch {
	case strings.Contains(trimmed, "/proc/loadavg"):
		return parseLoadavg(out, metrics)
	case strings.Contains(trimmed, "/proc/uptime"):
		return parseProcUptime(out, metrics)
	case trimmed == "uptime" || strings.HasPrefix(trimmed, "uptime "):
		return parseUptime(out, metrics)
	case trimmed == "free" || strings.HasPrefix(trimmed, "free "):
		return parseFree(out, metrics)
	default:
		metrics["output."+trimmed] = strings.TrimSpace(out)
		return nil
	}
}

// parseLoadavg reads "0.08 0.03 0.01 1/123 4567".
func parseLoadavg(out string, metrics map[string]any) error {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return fmt.Errorf("%w: unexpected /proc/loadavg output %q", ErrProtocol, out)
	}

	return setLoads(fields[:3], metrics)
}

// parseProcUptime reads "12345.67 54321.00".
func parseProcUptime(out string, metrics map[string]any) error {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty /proc/uptime output", ErrProtocol)
	}

	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("%w: /proc/uptime: %w", ErrProtocol, err)
	}

	metrics["uptime_seconds"] = int64(seconds)

	return nil
}

// parseUptime extracts load averages from the classic uptime(1) line, e.g.
// " 10:14:03 up 3 days,  4:12,  1 user,  load average: 0.08, 0.03, 0.01".
func parseUptime(out string, metrics map[string]any) error {
	idx := strings.Index(out, "load average")
	if idx < 0 {
		return fmt.Errorf("%w: uptime output has no load average: %q", ErrProtocol, strings.TrimSpace(out))
	}

	rest := out[idx+len("load average"):]
	rest = strings.TrimLeft(rest, "s: ")

	parts := strings.FieldsFunc(rest, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	})
	if len(parts) < 3 {
		return fmt.Errorf("%w: truncated load average %q", ErrProtocol, rest)
	}

	return setLoads(parts[:3], metrics)
}

// parseFree reads the "Mem:" row of free(1).
func parseFree(out string, metrics map[string]any) error {
	scanner := bufio.NewScanner(strings.NewReader(out))

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != "Mem:" {
			continue
		}

		total, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: free total: %w", ErrProtocol, err)
		}

		used, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: free used: %w", ErrProtocol, err)
		}

		metrics["mem_total_bytes"] = total
		metrics["mem_used_bytes"] = used

		if total > 0 {
			metrics["mem_used_percent"] = float64(used) / float64(total) * 100
		}

		return nil
	}

	return fmt.Errorf("%w: free output has no Mem row", ErrProtocol)
}

func setLoads(values []string, metrics map[string]any) error {
	keys := [...]string{"load_1m", "load_5m", "load_15m"}

	for i, key := range keys {
		v, err := strconv.ParseFloat(strings.TrimSpace(values[i]), 64)
		if err != nil {
			return fmt.Errorf("%w: load average %q: %w", ErrProtocol, values[i], err)
		}

		metrics[key] = v
	}

	return nil
}
