package climatiq

const (
	factorTruck     = "freight_vehicle-vehicle_type_truck-fuel_source_diesel-distance_na-weight_na"
	factorRail      = "freight_rail-route_type_na-fuel_source_na"
	factorShip      = "freight_ship-vessel_type_na-fuel_source_na-route_type_na"
	factorFlight    = "freight_flight-route_type_na-distance_na-weight_na"
	factorGridMix   = "electricity-energy_source_grid_mix"
	factorIndustry  = "industrial_process-type_average"
	defaultEnergyIn = "kWh"
)

var (
	freightFactors = map[string]string{
		"road": factorTruck,
		"rail": factorRail,
		"sea":  factorShip,
		"air":  factorFlight,
	}
	energyFactors = map[string]string{
		"natural_gas": "natural_gas-energy_source_natural_gas_gc",
		"coal":        "coal-energy_source_coal_gc",
		"oil":         "petroleum-energy_source_petroleum_gc",
	}
	cbemFactors = map[string]string{
		"cement":      "cement-type_average",
		"steel":       "steel-production_route_bof",
		"aluminum":    "aluminium-production_route_primary",
		"fertilizer":  "fertilizer-type_nitrogen",
		"electricity": factorGridMix,
	}
)

type FreightParams struct {
	DistanceKM float64
	WeightKG   float64
	// Mode is road, rail, sea or air; anything else is treated as road
	Mode string
}

func (p FreightParams) params() map[string]any {
	return map[string]any{
		"distance":       p.DistanceKM,
		"distance_unit":  "km",
		"weight":         p.WeightKG,
		"weight_unit":    "kg",
		"transport_mode": p.Mode,
	}
}

type EnergyParams struct {
	Energy float64
	// Unit is kWh, MWh or GWh; empty means kWh
	Unit    string
	Type    string
	Country string
}

func (p EnergyParams) unit() string {
	if p.Unit == "" {
		return defaultEnergyIn
	}
	return p.Unit
}

func (p EnergyParams) params() map[string]any {
	return map[string]any{
		"energy":      p.Energy,
		"energy_unit": p.unit(),
		"energy_type": p.Type,
	}
}

// CBEMParams describes goods crossing a carbon border. Quantity is tonnes,
// or kWh for electricity.
type CBEMParams struct {
	Product  string
	Quantity float64
	Region   string
}

func (p CBEMParams) params() map[string]any {
	return map[string]any{
		"product":  p.Product,
		"quantity": p.Quantity,
		"region":   p.Region,
	}
}

func FreightFactor(mode string) string {
	if f, ok := freightFactors[mode]; ok {
		return f
	}
	return factorTruck
}

// EnergyFactor picks the activity id for an energy type. Grid electricity
// can be narrowed to a country.
func EnergyFactor(energyType, country string) string {
	if f, ok := energyFactors[energyType]; ok {
		return f
	}
	if energyType == "electricity" && country != "" {
		return factorGridMix + "-country_" + country
	}
	return factorGridMix
}

func CBEMFactor(product string) string {
	if f, ok := cbemFactors[product]; ok {
		return f
	}
	return factorIndustry
}
