package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Catalogs hold the static farm vocabulary: crop kinds, disease kinds and
// tradable items. Loaded once at startup; digests let paired components
// verify they agree on the data.
type Catalogs struct {
	Crops    CropCatalog
	Diseases DiseaseCatalog
	Items    ItemCatalog
}

type CropCatalog struct {
	ByID   map[string]CropDef
	IDs    []string // sorted
	Digest string
}

// CropDef coefficients drive the field tick: growth per tick, moisture
// consumed per tick, scan freshness lost per tick.
type CropDef struct {
	ID           string  `json:"id"`
	GrowthSpeed  int     `json:"growth_speed"`
	WaterConsume int     `json:"water_consume"`
	ScanDecay    int     `json:"scan_decay"`
	CropItem     string  `json:"crop_item"`
	HarvestValue float64 `json:"harvest_value"`
}

type DiseaseCatalog struct {
	ByID   map[string]DiseaseDef
	IDs    []string // sorted; the uniform disease roll indexes this slice
	Digest string
}

type DiseaseDef struct {
	ID            string `json:"id"`
	Cure          string `json:"cure"`
	DamagePerTick int    `json:"damage_per_tick"`
}

type ItemCatalog struct {
	ByID   map[string]ItemDef
	IDs    []string // sorted
	Digest string
}

type ItemDef struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind"` // "RESOURCE","CHEMICAL","CROP"
	BasePrice float64 `json:"base_price"`
	MinStock  int     `json:"min_stock,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadCrops(filepath.Join(configDir, "crops.json"), &c.Crops); err != nil {
		return nil, err
	}
	if err := loadDiseases(filepath.Join(configDir, "diseases.json"), &c.Diseases); err != nil {
		return nil, err
	}
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalogs) validate() error {
	for _, id := range c.Diseases.IDs {
		d := c.Diseases.ByID[id]
		if _, ok := c.Items.ByID[d.Cure]; !ok {
			return fmt.Errorf("disease %s: unknown cure item %s", id, d.Cure)
		}
	}
	for _, id := range c.Crops.IDs {
		cr := c.Crops.ByID[id]
		if _, ok := c.Items.ByID[cr.CropItem]; !ok {
			return fmt.Errorf("crop %s: unknown crop item %s", id, cr.CropItem)
		}
	}
	return nil
}

func loadCrops(path string, out *CropCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []CropDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("crops.json: %w", err)
	}
	out.ByID = map[string]CropDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("crops.json: empty crop id")
		}
		out.ByID[d.ID] = d
		out.IDs = append(out.IDs, d.ID)
	}
	sort.Strings(out.IDs)
	out.Digest = digest(defs)
	return nil
}

func loadDiseases(path string, out *DiseaseCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []DiseaseDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("diseases.json: %w", err)
	}
	out.ByID = map[string]DiseaseDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("diseases.json: empty disease id")
		}
		out.ByID[d.ID] = d
		out.IDs = append(out.IDs, d.ID)
	}
	sort.Strings(out.IDs)
	out.Digest = digest(defs)
	return nil
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.ByID = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty item id")
		}
		out.ByID[d.ID] = d
		out.IDs = append(out.IDs, d.ID)
	}
	sort.Strings(out.IDs)
	out.Digest = digest(defs)
	return nil
}

// digest hashes the canonical JSON of the defs as listed in the file.
func digest(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
