// Package upgrade defines the static catalog of purchasable upgrades.
// This package is PURE and must NOT import any infrastructure packages.
package upgrade

import "fmt"

// Key identifies an upgrade in the catalog.
type Key string

const (
	KeyPointer        Key = "pointer"
	KeyGoldenCheese   Key = "goldenCheese"
	KeyMoonMagnet     Key = "moonMagnet"
	KeyCheeseFactory  Key = "cheeseFactory"
	KeyCosmicCow      Key = "cosmicCow"
	KeyRocketLauncher Key = "rocketLauncher"
)

// Definition is the immutable description of one catalog entry.
type Definition struct {
	Key      Key     `json:"key" yaml:"key"`
	Name     string  `json:"name" yaml:"name"`
	BaseCost float64 `json:"base_cost" yaml:"baseCost"` // Cost of the first purchase
	BaseCPS  float64 `json:"base_cps" yaml:"baseCps"`   // Per-second contribution at count 1
	BaseCPC  float64 `json:"base_cpc" yaml:"baseCpc"`   // Per-click contribution at count 1
}

// Validate checks that every base value is positive.
func (d Definition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("upgrade definition without key")
	}
	if d.BaseCost <= 0 || d.BaseCPS <= 0 || d.BaseCPC <= 0 {
		return fmt.Errorf("upgrade %s: base values must be positive", d.Key)
	}
	return nil
}

// Catalog is an ordered, keyed set of definitions. It is never mutated after construction.
type Catalog struct {
	defs  []Definition
	index map[Key]int
}

// NewCatalog builds a catalog, rejecting duplicate keys and invalid definitions.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		defs:  make([]Definition, 0, len(defs)),
		index: make(map[Key]int, len(defs)),
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.index[d.Key]; dup {
			return nil, fmt.Errorf("duplicate upgrade key %q", d.Key)
		}
		c.index[d.Key] = len(c.defs)
		c.defs = append(c.defs, d)
	}
	return c, nil
}

// Lookup returns the definition for a key.
func (c *Catalog) Lookup(key Key) (Definition, bool) {
	i, ok := c.index[key]
	if !ok {
		return Definition{}, false
	}
	return c.defs[i], true
}

// Definitions returns the catalog entries in display order.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Keys returns every key in display order.
func (c *Catalog) Keys() []Key {
	keys := make([]Key, len(c.defs))
	for i, d := range c.defs {
		keys[i] = d.Key
	}
	return keys
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// DefaultDefinitions is the shipped upgrade lineup.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Key: KeyPointer, Name: "Pointer", BaseCost: 15, BaseCPS: 1, BaseCPC: 2},
		{Key: KeyGoldenCheese, Name: "Golden Cheese", BaseCost: 200, BaseCPS: 5, BaseCPC: 7},
		{Key: KeyMoonMagnet, Name: "Moon Magnet", BaseCost: 1000, BaseCPS: 20, BaseCPC: 23},
		{Key: KeyCheeseFactory, Name: "Cheese Factory", BaseCost: 25000, BaseCPS: 100, BaseCPC: 120},
		{Key: KeyCosmicCow, Name: "Cosmic Cow", BaseCost: 100000, BaseCPS: 500, BaseCPC: 600},
		{Key: KeyRocketLauncher, Name: "Rocket Launcher", BaseCost: 20000000, BaseCPS: 15000, BaseCPC: 20000},
	}
}

// DefaultCatalog returns the shipped catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions())
	if err != nil {
		panic("upgrade: invalid default catalog: " + err.Error())
	}
	return c
}
