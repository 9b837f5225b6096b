package adapter

import (
	"math"
	"strconv"
	"strings"

	"gosh-fetch/internal/domain"
	"gosh-fetch/internal/engine"
)

// ConvertOptions parses the front-end option bag into typed engine options.
// Unparseable numbers and enum tokens fall back to the engine default.
func ConvertOptions(opts domain.DownloadOptions) engine.Options {
	out := engine.Options{
		ID:        engine.ID(strings.TrimSpace(opts.GID)),
		SaveDir:   strings.TrimSpace(opts.Dir),
		Filename:  strings.TrimSpace(opts.Out),
		UserAgent: opts.UserAgent,
		Referer:   opts.Referer,
		Headers:   parseHeaders(opts.Header),
		Cookies:   parseCookies(opts.Cookies),
		Checksum:  parseChecksum(opts.ChecksumType, opts.ChecksumValue),
		Mirrors:   nonEmpty(opts.MirrorURLs),
	}
	if out.SaveDir != "" {
		out.SaveDir = domain.ExpandHome(out.SaveDir)
	}
	if p, err := engine.ParsePriority(opts.Priority); err == nil {
		out.Priority = p
	}
	if n, err := strconv.Atoi(strings.TrimSpace(opts.MaxConnectionPerServer)); err == nil && n > 0 {
		out.MaxConnections = n
	}
	if v, ok := ParseSpeed(opts.MaxDownloadLimit); ok {
		out.MaxDownloadSpeed = v
	}
	if v, ok := ParseSpeed(opts.MaxUploadLimit); ok {
		out.MaxUploadSpeed = v
	}
	if r, err := strconv.ParseFloat(strings.TrimSpace(opts.SeedRatio), 64); err == nil && r >= 0 {
		out.SeedRatio = r
	}
	out.SelectedFiles = ParseSelectFile(opts.SelectFile)
	out.Sequential = opts.Sequential
	return out
}

// ParseSpeed parses "500", "500K", "1m" or "2G" into bytes per second using
// a 1024 multiplier.
func ParseSpeed(s string) (int64, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, false
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1 << 10
	case 'M':
		mult = 1 << 20
	case 'G':
		mult = 1 << 30
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n > math.MaxInt64/mult {
		return 0, false
	}
	return int64(n * mult), true
}

// ParseSelectFile turns "1,3,5" into indices. Entries that are not integers
// are skipped; an empty string means no selection.
func ParseSelectFile(s string) []int {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	out := []int{}
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		out = append(out, n)
	}
	return out
}

// parseHeaders splits "Name: value" lines on the first colon. Lines without
// a colon are dropped.
func parseHeaders(lines []string) []engine.Header {
	var out []engine.Header
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, engine.Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return out
}

func parseCookies(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, c := range strings.Split(s, ";") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func parseChecksum(kind, value string) *engine.Checksum {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	switch engine.ChecksumAlgorithm(strings.ToLower(strings.TrimSpace(kind))) {
	case engine.ChecksumMD5:
		return &engine.Checksum{Algorithm: engine.ChecksumMD5, Value: strings.ToLower(value)}
	case engine.ChecksumSHA256:
		return &engine.Checksum{Algorithm: engine.ChecksumSHA256, Value: strings.ToLower(value)}
	default:
		return nil
	}
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
