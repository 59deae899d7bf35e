// Package generator produces synthetic alerts with weighted distributions,
// for exercising alert-mailer end to end. Seeded generators are deterministic
// except for alert ids.
package generator

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"alert-mailer/internal/events"
)

// Default distributions, as KEY:PERCENT lists.
const (
	DefaultSeverityDist = "CRITICAL:10,MAJOR:25,MINOR:40,WARNING:25"
	DefaultSourceDist   = "web01:30,web02:30,db01:20,cache01:20"
	DefaultEventDist    = "DiskFull:25,HighLoad:25,NodeDown:15,SlowResponse:35"
)

var (
	severities   = []string{"CRITICAL", "MAJOR", "MINOR", "WARNING", "NORMAL"}
	environments = []string{"PROD", "STAGING", "DEV"}
	services     = []string{"Website", "Payments", "Search"}
)

// Config holds the generator settings.
type Config struct {
	Seed         int64
	SeverityDist string
	SourceDist   string
	EventDist    string
	// RepeatRatio is the share of alerts marked as repeats, in [0, 1].
	RepeatRatio float64
	// GraphURL, when set, is attached as the alert's only graph.
	GraphURL string
}

type weightedValue struct {
	value  string
	weight int
}

// Generator creates alerts according to configured distributions.
type Generator struct {
	rng         *rand.Rand
	severity    []weightedValue
	source      []weightedValue
	event       []weightedValue
	repeatRatio float64
	graphURL    string
	now         func() time.Time
}

// New creates a generator. Empty distributions fall back to the defaults.
func New(cfg Config) (*Generator, error) {
	if cfg.RepeatRatio < 0 || cfg.RepeatRatio > 1 {
		return nil, fmt.Errorf("repeat ratio must be between 0 and 1, got %v", cfg.RepeatRatio)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &Generator{
		rng:         rand.New(rand.NewSource(seed)),
		repeatRatio: cfg.RepeatRatio,
		graphURL:    cfg.GraphURL,
		now:         time.Now,
	}

	var err error
	if g.severity, err = parseWeighted(orDefault(cfg.SeverityDist, DefaultSeverityDist)); err != nil {
		return nil, fmt.Errorf("invalid severity distribution: %w", err)
	}
	if g.source, err = parseWeighted(orDefault(cfg.SourceDist, DefaultSourceDist)); err != nil {
		return nil, fmt.Errorf("invalid source distribution: %w", err)
	}
	if g.event, err = parseWeighted(orDefault(cfg.EventDist, DefaultEventDist)); err != nil {
		return nil, fmt.Errorf("invalid event distribution: %w", err)
	}
	return g, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// ParseDistribution parses "KEY:PERCENT,..." into a map. Percentages must
// sum to 100.
func ParseDistribution(distStr string) (map[string]int, error) {
	if strings.TrimSpace(distStr) == "" {
		return nil, fmt.Errorf("distribution string cannot be empty")
	}

	result := make(map[string]int)
	total := 0
	for _, part := range strings.Split(distStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		key, pct, ok := strings.Cut(part, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid distribution format: %s (expected KEY:PERCENT)", part)
		}
		var percent int
		if _, err := fmt.Sscanf(strings.TrimSpace(pct), "%d", &percent); err != nil {
			return nil, fmt.Errorf("invalid percentage in %s: %w", part, err)
		}
		if percent < 0 || percent > 100 {
			return nil, fmt.Errorf("percentage must be 0-100, got %d in %s", percent, part)
		}

		result[key] += percent
		total += percent
	}

	if total != 100 {
		return nil, fmt.Errorf("distribution percentages must sum to 100, got %d", total)
	}
	return result, nil
}

// parseWeighted returns the distribution sorted by key so a seeded generator
// picks the same values on every run.
func parseWeighted(distStr string) ([]weightedValue, error) {
	dist, err := ParseDistribution(distStr)
	if err != nil {
		return nil, err
	}
	out := make([]weightedValue, 0, len(dist))
	for value, weight := range dist {
		out = append(out, weightedValue{value: value, weight: weight})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].value < out[j].value })
	return out, nil
}

// Generate creates one alert.
func (g *Generator) Generate() *events.Alert {
	severity := g.selectWeighted(g.severity)
	source := g.selectWeighted(g.source)
	event := g.selectWeighted(g.event)

	alert := &events.Alert{
		ID:          uuid.New().String(),
		Source:      source,
		Event:       event,
		Group:       "Synthetic",
		Severity:    severity,
		Value:       events.Scalar(fmt.Sprintf("%d%%", 50+g.rng.Intn(50))),
		Text:        fmt.Sprintf("%s reported %s", source, event),
		Summary:     fmt.Sprintf("%s - %s %s", source, severity, event),
		CreateTime:  g.now().UTC().Format(time.RFC3339),
		Environment: events.Tags{g.selectFrom(environments)},
		Service:     events.Tags{g.selectFrom(services)},
	}

	// The rest of the optional fields are filled in some of the time.
	if g.rng.Float64() < 0.7 {
		alert.PreviousSeverity = g.selectFrom(severities)
	}
	if g.rng.Float64() < 0.3 {
		alert.AlertRule = fmt.Sprintf("%s > threshold", strings.ToLower(event))
	}
	if g.graphURL != "" {
		alert.Graphs = []string{g.graphURL}
	}
	if g.rng.Float64() < g.repeatRatio {
		alert.Repeat = true
		count := 1 + g.rng.Intn(5)
		alert.DuplicateCount = &count
	}
	return alert
}

// selectWeighted picks a value using cumulative weights.
func (g *Generator) selectWeighted(choices []weightedValue) string {
	total := 0
	for _, c := range choices {
		total += c.weight
	}
	if total == 0 {
		return "unknown"
	}

	r := g.rng.Intn(total)
	cumulative := 0
	for _, c := range choices {
		cumulative += c.weight
		if r < cumulative {
			return c.value
		}
	}
	return choices[len(choices)-1].value
}

func (g *Generator) selectFrom(choices []string) string {
	return choices[g.rng.Intn(len(choices))]
}
