package tuning

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning carries every knob of the coordination engine. Values not present in
// tuning.yaml keep their defaults.
type Tuning struct {
	FieldTickMs        int `yaml:"field_tick_ms"`
	ExecutorPeriodMs   int `yaml:"executor_period_ms"`
	DeliberatePeriodMs int `yaml:"deliberate_period_ms"`
	BroadcastPeriodMs  int `yaml:"broadcast_period_ms"`

	DiseaseChance float64 `yaml:"disease_chance"`

	CFPDeadlineMs int `yaml:"cfp_deadline_ms"`

	InventoryCapacity int            `yaml:"inventory_capacity"`
	InitialBudget     float64        `yaml:"initial_budget"`
	InitialStock      map[string]int `yaml:"initial_stock"`

	WaterUnitMoisture int `yaml:"water_unit_moisture"`
	MaxWaterUnits     int `yaml:"max_water_units"`
	TreatHealthBonus  int `yaml:"treat_health_bonus"`

	LowBattery int                    `yaml:"low_battery"`
	ChargeMs   int                    `yaml:"charge_ms"`
	TravelMs   int                    `yaml:"travel_ms"`
	ActMs      int                    `yaml:"act_ms"`
	Workers    map[string]WorkerCosts `yaml:"workers"`

	IntentionDisplayMax int `yaml:"intention_display_max"`
}

// WorkerCosts are battery points spent per move leg and per on-field action.
type WorkerCosts struct {
	Move int `yaml:"move"`
	Act  int `yaml:"act"`
}

func Defaults() Tuning {
	return Tuning{
		FieldTickMs:        1000,
		ExecutorPeriodMs:   2000,
		DeliberatePeriodMs: 2000,
		BroadcastPeriodMs:  3000,
		DiseaseChance:      0.05,
		CFPDeadlineMs:      2000,
		InventoryCapacity:  100,
		InitialBudget:      1000,
		InitialStock: map[string]int{
			"WATER":        20,
			"PESTICIDE_A":  5,
			"FUNGICIDE_X":  3,
			"ANTIBIOTIC_Z": 3,
		},
		WaterUnitMoisture: 30,
		MaxWaterUnits:     3,
		TreatHealthBonus:  30,
		LowBattery:        20,
		ChargeMs:          5000,
		TravelMs:          1500,
		ActMs:             1000,
		Workers: map[string]WorkerCosts{
			"SCANNER":   {Move: 10, Act: 10},
			"SPRAYER":   {Move: 5, Act: 5},
			"HARVESTER": {Move: 5, Act: 10},
			"IRRIGATOR": {Move: 5, Act: 15},
		},
		IntentionDisplayMax: 5,
	}
}

func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) FieldTick() time.Duration       { return time.Duration(t.FieldTickMs) * time.Millisecond }
func (t Tuning) ExecutorPeriod() time.Duration  { return time.Duration(t.ExecutorPeriodMs) * time.Millisecond }
func (t Tuning) DeliberatePeriod() time.Duration {
	return time.Duration(t.DeliberatePeriodMs) * time.Millisecond
}
func (t Tuning) BroadcastPeriod() time.Duration {
	return time.Duration(t.BroadcastPeriodMs) * time.Millisecond
}
func (t Tuning) CFPDeadline() time.Duration { return time.Duration(t.CFPDeadlineMs) * time.Millisecond }
func (t Tuning) ChargeTime() time.Duration  { return time.Duration(t.ChargeMs) * time.Millisecond }
func (t Tuning) TravelTime() time.Duration  { return time.Duration(t.TravelMs) * time.Millisecond }
func (t Tuning) ActTime() time.Duration     { return time.Duration(t.ActMs) * time.Millisecond }
