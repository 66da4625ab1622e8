package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/trendyol-metrics-scraper/internal/database"
	"github.com/maltedev/trendyol-metrics-scraper/internal/scraper"
)

type targetFile struct {
	Targets []scraper.Target `yaml:"targets"`
}

// LoadTargets reads a target list. Files ending in .yaml or .yml hold a
// "targets" list; anything else is one URL per line, optionally followed by
// the sales rank.
func LoadTargets(path string) ([]scraper.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open target file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAMLTargets(f)
	default:
		return ParseTextTargets(f)
	}
}

func ParseYAMLTargets(r io.Reader) ([]scraper.Target, error) {
	var file targetFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode targets: %w", err)
	}
	return Clean(file.Targets)
}

// ParseTextTargets skips blank lines and lines starting with '#'.
func ParseTextTargets(r io.Reader) ([]scraper.Target, error) {
	var targets []scraper.Target

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		t := scraper.Target{URL: fields[0]}
		if len(fields) > 1 {
			rank, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid sales rank %q", line, fields[1])
			}
			t.SalesRank = &rank
		}
		targets = append(targets, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read targets: %w", err)
	}

	return Clean(targets)
}

// FromURLs builds targets without sales ranks.
func FromURLs(urls []string) ([]scraper.Target, error) {
	targets := make([]scraper.Target, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, scraper.Target{URL: u})
	}
	return Clean(targets)
}

// Clean validates URLs and drops repeats, keeping the first occurrence.
func Clean(targets []scraper.Target) ([]scraper.Target, error) {
	seen := make(map[string]struct{}, len(targets))
	out := make([]scraper.Target, 0, len(targets))

	for _, t := range targets {
		t.URL = strings.TrimSpace(t.URL)
		u, err := url.Parse(t.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid product url %q", t.URL)
		}
		if _, dup := seen[t.URL]; dup {
			continue
		}
		seen[t.URL] = struct{}{}
		out = append(out, t)
	}

	return out, nil
}

// StaleSource lists products that have gone longest without a scrape.
type StaleSource interface {
	StaleProducts(ctx context.Context, limit int) ([]database.Product, error)
}

func StaleTargets(ctx context.Context, src StaleSource, limit int) ([]scraper.Target, error) {
	products, err := src.StaleProducts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale products: %w", err)
	}

	targets := make([]scraper.Target, 0, len(products))
	for _, p := range products {
		targets = append(targets, scraper.Target{URL: p.URL})
	}
	return targets, nil
}
