// Package content loads the dungeon level catalog that seeds each room's level.
package content

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/dungeon-relay/internal/relay"
)

// yamlCatalogFile is the top-level YAML structure for the level catalog.
type yamlCatalogFile struct {
	Catalog yamlCatalog `yaml:"catalog"`
}

type yamlCatalog struct {
	MaxLevel      int            `yaml:"max_level"`
	StartingLevel map[string]int `yaml:"starting_level"`
	Levels        []yamlLevel    `yaml:"levels"`
}

type yamlLevel struct {
	Number  int    `yaml:"number"`
	Name    string `yaml:"name"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Enemies int    `yaml:"enemies"`
	Coins   int    `yaml:"coins"`
}

// Level describes one dungeon floor. The relay only uses Number; the rest is
// informational for operators.
type Level struct {
	Number  int
	Name    string
	Width   int
	Height  int
	Enemies int
	Coins   int
}

var _ relay.LevelSource = (*Catalog)(nil)

// Catalog is the set of known dungeon levels. It implements relay.LevelSource.
type Catalog struct {
	maxLevel int
	starting map[relay.GameMode]int
	levels   map[int]Level
}

// Default returns a catalog that starts every room at level 1 and places no
// upper bound on progression.
func Default() *Catalog {
	return &Catalog{
		starting: map[relay.GameMode]int{relay.ModeCooperative: 1, relay.ModeCompetitive: 1},
		levels:   map[int]Level{},
	}
}

// LoadFromFile reads and validates a catalog YAML file.
//
// Precondition: path must point to a valid YAML catalog file.
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadFromFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading level catalog %s: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates a catalog from YAML bytes.
//
// Precondition: data must be valid YAML conforming to the catalog schema.
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadFromBytes(data []byte) (*Catalog, error) {
	var file yamlCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing level catalog YAML: %w", err)
	}
	cat, err := convertYAMLCatalog(file.Catalog)
	if err != nil {
		return nil, fmt.Errorf("validating level catalog: %w", err)
	}
	return cat, nil
}

func convertYAMLCatalog(yc yamlCatalog) (*Catalog, error) {
	var errs []string

	levels := make(map[int]Level, len(yc.Levels))
	highest := 0
	for _, yl := range yc.Levels {
		if yl.Number < 1 {
			errs = append(errs, fmt.Sprintf("level number must be >= 1, got %d", yl.Number))
			continue
		}
		if _, dup := levels[yl.Number]; dup {
			errs = append(errs, fmt.Sprintf("duplicate level %d", yl.Number))
			continue
		}
		levels[yl.Number] = Level(yl)
		highest = max(highest, yl.Number)
	}
	for n := 1; n <= highest; n++ {
		if _, ok := levels[n]; !ok {
			errs = append(errs, fmt.Sprintf("level %d is missing", n))
		}
	}

	maxLevel := yc.MaxLevel
	if maxLevel == 0 {
		maxLevel = highest
	}
	if maxLevel < 0 {
		errs = append(errs, fmt.Sprintf("max_level must not be negative, got %d", maxLevel))
	}

	starting := map[relay.GameMode]int{relay.ModeCooperative: 1, relay.ModeCompetitive: 1}
	for mode, lvl := range yc.StartingLevel {
		gm := relay.GameMode(mode)
		if !gm.Valid() {
			errs = append(errs, fmt.Sprintf("starting_level: unknown game mode %q", mode))
			continue
		}
		if lvl < 1 || (maxLevel > 0 && lvl > maxLevel) {
			errs = append(errs, fmt.Sprintf("starting_level.%s must be within [1, %d], got %d", mode, maxLevel, lvl))
			continue
		}
		starting[gm] = lvl
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return &Catalog{maxLevel: maxLevel, starting: starting, levels: levels}, nil
}

// StartingLevel returns the configured first level for mode.
func (c *Catalog) StartingLevel(_, _ string, mode relay.GameMode) int {
	if lvl, ok := c.starting[mode]; ok {
		return lvl
	}
	return 1
}

// ClampLevel bounds level to [1, MaxLevel]; a zero MaxLevel is unbounded.
func (c *Catalog) ClampLevel(level int) int {
	level = max(level, 1)
	if c.maxLevel > 0 {
		level = min(level, c.maxLevel)
	}
	return level
}

// MaxLevel returns the highest reachable level, or 0 when unbounded.
func (c *Catalog) MaxLevel() int {
	return c.maxLevel
}

// Level returns the catalog entry for n.
func (c *Catalog) Level(n int) (Level, bool) {
	l, ok := c.levels[n]
	return l, ok
}

// Len returns the number of described levels.
func (c *Catalog) Len() int {
	return len(c.levels)
}
