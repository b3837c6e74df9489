package climatiq

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Tables holds the factors used for offline estimates
type Tables struct {
	// kg CO2e per tonne-km, by transport mode
	FreightFactors map[string]float64 `yaml:"freight"`
	// kg CO2e per kWh, by energy type
	EnergyFactors map[string]float64 `yaml:"energy"`
	// kg CO2e per tonne (per kWh for electricity), by region then product
	CBEMIntensity map[string]map[string]float64 `yaml:"cbem"`
	// used when a product is missing from its region
	CBEMDefault float64 `yaml:"cbem_default"`
}

func DefaultTables() *Tables {
	return &Tables{
		FreightFactors: map[string]float64{
			"road": 0.062,
			"rail": 0.022,
			"sea":  0.008,
			"air":  0.602,
		},
		EnergyFactors: map[string]float64{
			"electricity": 0.475,
			"natural_gas": 0.2,
			"coal":        1.0,
			"oil":         0.268,
		},
		CBEMIntensity: map[string]map[string]float64{
			"EU": {"cement": 700, "steel": 1250, "aluminum": 8500, "fertilizer": 3000, "electricity": 0.275},
			"US": {"cement": 750, "steel": 1400, "aluminum": 9000, "fertilizer": 3200, "electricity": 0.405},
			"CN": {"cement": 850, "steel": 1900, "aluminum": 12000, "fertilizer": 3500, "electricity": 0.555},
		},
		CBEMDefault: 1000,
	}
}

// LoadTables reads a YAML file and lays its entries over the defaults.
// Entries the file leaves out keep their default value.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading factor tables: %w", err)
	}
	var override Tables
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing factor tables %s: %w", path, err)
	}
	t := DefaultTables()
	for k, v := range override.FreightFactors {
		t.FreightFactors[k] = v
	}
	for k, v := range override.EnergyFactors {
		t.EnergyFactors[k] = v
	}
	for region, products := range override.CBEMIntensity {
		if t.CBEMIntensity[region] == nil {
			t.CBEMIntensity[region] = map[string]float64{}
		}
		for k, v := range products {
			t.CBEMIntensity[region][k] = v
		}
	}
	if override.CBEMDefault > 0 {
		t.CBEMDefault = override.CBEMDefault
	}
	return t, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (t *Tables) Freight(p FreightParams) *EmissionResult {
	factor, ok := t.FreightFactors[p.Mode]
	if !ok {
		factor = t.FreightFactors["road"]
	}
	return &EmissionResult{
		CO2e:       round2(p.DistanceKM * (p.WeightKG / 1000) * factor),
		CO2eUnit:   "kg CO2e",
		Parameters: p.params(),
		Source:     SourceLocal,
	}
}

func (t *Tables) Energy(p EnergyParams) *EmissionResult {
	factor, ok := t.EnergyFactors[p.Type]
	if !ok {
		factor = t.EnergyFactors["electricity"]
	}
	p.Unit = p.unit()
	kwh := p.Energy
	switch p.Unit {
	case "MWh":
		kwh *= 1e3
	case "GWh":
		kwh *= 1e6
	}
	return &EmissionResult{
		CO2e:       round2(kwh * factor),
		CO2eUnit:   "kg CO2e",
		Parameters: map[string]any{"energy": p.Energy, "energy_unit": p.Unit, "energy_type": p.Type},
		Source:     SourceLocal,
	}
}

// CBEM reports electricity in kg CO2e and everything else in t CO2e
func (t *Tables) CBEM(p CBEMParams) *EmissionResult {
	region, ok := t.CBEMIntensity[p.Region]
	if !ok {
		region = t.CBEMIntensity["EU"]
	}
	intensity, ok := region[p.Product]
	if !ok {
		intensity = t.CBEMDefault
	}
	co2e, unit := p.Quantity*intensity, "kg CO2e"
	if p.Product != "electricity" {
		co2e, unit = co2e/1000, "t CO2e"
	}
	return &EmissionResult{
		CO2e:       round2(co2e),
		CO2eUnit:   unit,
		Parameters: p.params(),
		Source:     SourceLocal,
	}
}
