package climatiq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactorSelection(t *testing.T) {
	assert.Equal(t, factorRail, FreightFactor("rail"))
	assert.Equal(t, factorFlight, FreightFactor("air"))
	assert.Equal(t, factorTruck, FreightFactor("teleport"))

	assert.Equal(t, "electricity-energy_source_grid_mix-country_TW", EnergyFactor("electricity", "TW"))
	assert.Equal(t, "electricity-energy_source_grid_mix", EnergyFactor("electricity", ""))
	assert.Equal(t, "electricity-energy_source_grid_mix", EnergyFactor("solar", "TW"))
	assert.Equal(t, "petroleum-energy_source_petroleum_gc", EnergyFactor("oil", ""))

	assert.Equal(t, "aluminium-production_route_primary", CBEMFactor("aluminum"))
	assert.Equal(t, "industrial_process-type_average", CBEMFactor("glass"))
}

func TestLocalEstimates(t *testing.T) {
	tables := DefaultTables()
	tests := []struct {
		name string
		got  *EmissionResult
		co2e float64
		unit string
	}{
		{"freight road", tables.Freight(FreightParams{DistanceKM: 500, WeightKG: 2000, Mode: "road"}), 62, "kg CO2e"},
		{"freight unknown mode", tables.Freight(FreightParams{DistanceKM: 500, WeightKG: 2000, Mode: "teleport"}), 62, "kg CO2e"},
		{"freight air", tables.Freight(FreightParams{DistanceKM: 500, WeightKG: 2000, Mode: "air"}), 602, "kg CO2e"},
		{"freight rounding", tables.Freight(FreightParams{DistanceKM: 123, WeightKG: 456, Mode: "rail"}), 1.23, "kg CO2e"},
		{"energy kWh", tables.Energy(EnergyParams{Energy: 1000, Unit: "kWh", Type: "electricity"}), 475, "kg CO2e"},
		{"energy MWh", tables.Energy(EnergyParams{Energy: 2, Unit: "MWh", Type: "coal"}), 2000, "kg CO2e"},
		{"energy GWh", tables.Energy(EnergyParams{Energy: 0.5, Unit: "GWh", Type: "natural_gas"}), 100000, "kg CO2e"},
		{"energy unknown type", tables.Energy(EnergyParams{Energy: 10, Type: "solar"}), 4.75, "kg CO2e"},
		{"cbem steel CN", tables.CBEM(CBEMParams{Product: "steel", Quantity: 10, Region: "CN"}), 19, "t CO2e"},
		{"cbem electricity", tables.CBEM(CBEMParams{Product: "electricity", Quantity: 1000, Region: "US"}), 405, "kg CO2e"},
		{"cbem unknown region", tables.CBEM(CBEMParams{Product: "cement", Quantity: 2, Region: "JP"}), 1.4, "t CO2e"},
		{"cbem unknown product", tables.CBEM(CBEMParams{Product: "glass", Quantity: 3, Region: "EU"}), 3, "t CO2e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.co2e, tt.got.CO2e, 1e-9)
			assert.Equal(t, tt.unit, tt.got.CO2eUnit)
			assert.Equal(t, SourceLocal, tt.got.Source)
		})
	}
}

func TestLocalEnergyDefaultsToKWh(t *testing.T) {
	got := DefaultTables().Energy(EnergyParams{Energy: 100, Type: "electricity"})
	assert.InDelta(t, 47.5, got.CO2e, 1e-9)
	assert.Equal(t, "kWh", got.Parameters["energy_unit"])
}

func TestLoadTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "factors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
freight:
  road: 0.1
cbem:
  TW:
    steel: 2000
cbem_default: 500
`), 0644))

	tables, err := LoadTables(path)
	require.NoError(t, err)
	assert.Equal(t, 0.1, tables.FreightFactors["road"])
	assert.Equal(t, 0.022, tables.FreightFactors["rail"], "untouched defaults survive")
	assert.InDelta(t, 20, tables.CBEM(CBEMParams{Product: "steel", Quantity: 10, Region: "TW"}).CO2e, 1e-9)
	assert.InDelta(t, 0.5, tables.CBEM(CBEMParams{Product: "glass", Quantity: 1, Region: "TW"}).CO2e, 1e-9)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("freight: [1, 2"), 0644))
	_, err = LoadTables(bad)
	assert.Error(t, err)

	_, err = LoadTables(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSearchEncode(t *testing.T) {
	q := SearchParams{Query: "grid mix electricity", Region: "US", Year: 2021}.Encode()
	assert.Equal(t, "data_version=%5E19&query=grid+mix+electricity&region=US&results_per_page=10&year=2021", q)

	q = SearchParams{
		DataVersion:             "20.20",
		Category:                "Fuel",
		AllowedDataQualityFlags: []string{"partial_factor", "suspicious_homogeneity"},
		Page:                    2,
		ResultsPerPage:          50,
	}.Encode()
	assert.Equal(t, "allowed_data_quality_flags=partial_factor%2Csuspicious_homogeneity&category=Fuel&data_version=20.20&page=2&results_per_page=50", q)
}

type fakeClimatiq struct {
	*httptest.Server
	calls   atomic.Int32
	lastReq EstimateRequest
	fail    bool
}

func newFakeClimatiq(t *testing.T) *fakeClimatiq {
	f := &fakeClimatiq{}
	mux := http.NewServeMux()
	mux.HandleFunc("/estimate", func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "message": "Invalid API key"})
			return
		}
		if f.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req EstimateRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.lastReq = req
		json.NewEncoder(w).Encode(map[string]any{"co2e": 12.5, "co2e_unit": "kg"})
	})
	mux.HandleFunc("/data/v1/search", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results":       []map[string]any{{"id": "f1", "name": r.URL.Query().Get("query"), "region": "US", "year": 2021}},
			"current_page":  1,
			"last_page":     1,
			"total_results": 1,
		})
	})
	mux.HandleFunc("/data/v1/unit-types", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unit_types":[{"unit_type":"Energy","units":["kWh","MWh"]}]}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeClimatiq) client(key string) *Client {
	return NewClient(key, WithBaseURL(f.URL), WithDataURL(f.URL))
}

func TestClientEstimates(t *testing.T) {
	f := newFakeClimatiq(t)
	c := f.client("test-key")
	ctx := context.Background()

	res, err := c.Freight(ctx, FreightParams{DistanceKM: 100, WeightKG: 500, Mode: "sea"})
	require.NoError(t, err)
	assert.Equal(t, 12.5, res.CO2e)
	assert.Equal(t, SourceClimatiq, res.Source)
	assert.Equal(t, factorShip, f.lastReq.EmissionFactor)
	assert.Equal(t, "km", f.lastReq.Parameters["distance_unit"])
	assert.Equal(t, "sea", res.Parameters["transport_mode"])

	_, err = c.Energy(ctx, EnergyParams{Energy: 10, Type: "electricity", Country: "DE"})
	require.NoError(t, err)
	assert.Equal(t, "electricity-energy_source_grid_mix-country_DE", f.lastReq.EmissionFactor)
	assert.Equal(t, "kWh", f.lastReq.Parameters["energy_unit"])

	_, err = c.CBEM(ctx, CBEMParams{Product: "cement", Quantity: 4, Region: "EU"})
	require.NoError(t, err)
	assert.Equal(t, "t", f.lastReq.Parameters["mass_unit"])

	_, err = c.CBEM(ctx, CBEMParams{Product: "electricity", Quantity: 4, Region: "EU"})
	require.NoError(t, err)
	assert.Equal(t, "kWh", f.lastReq.Parameters["energy_unit"])
	assert.NotContains(t, f.lastReq.Parameters, "mass")
}

func TestClientErrors(t *testing.T) {
	f := newFakeClimatiq(t)
	_, err := f.client("wrong-key").Estimate(context.Background(), EstimateRequest{EmissionFactor: factorTruck})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "climatiq API error: Unauthorized: Invalid API key", apiErr.Error())
}

func TestClientSearch(t *testing.T) {
	f := newFakeClimatiq(t)
	c := f.client("test-key")

	res, err := c.Search(context.Background(), SearchParams{Query: "grid mix"})
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "grid mix", res.Results[0].Name)

	units, err := c.UnitTypes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []UnitType{{UnitType: "Energy", Units: []string{"kWh", "MWh"}}}, units)
}

func TestHealth(t *testing.T) {
	f := newFakeClimatiq(t)
	assert.Equal(t, "ok", f.client("test-key").Health(context.Background()).Status)
	assert.Equal(t, "error", NewClient("k", WithBaseURL("http://127.0.0.1:1")).Health(context.Background()).Status)
}

func TestEstimatorFallback(t *testing.T) {
	f := newFakeClimatiq(t)
	ctx := context.Background()
	p := FreightParams{DistanceKM: 500, WeightKG: 2000, Mode: "road"}

	remote := NewEstimator(f.client("test-key"), nil)
	assert.Equal(t, SourceClimatiq, remote.Freight(ctx, p).Source)

	f.fail = true
	res := remote.Freight(ctx, p)
	assert.Equal(t, SourceLocal, res.Source)
	assert.Equal(t, 62.0, res.CO2e)

	before := f.calls.Load()
	offline := NewEstimator(f.client(""), nil)
	assert.Equal(t, SourceLocal, offline.Energy(ctx, EnergyParams{Energy: 1, Type: "coal"}).Source)
	assert.Equal(t, SourceLocal, offline.CBEM(ctx, CBEMParams{Product: "steel", Quantity: 1}).Source)
	assert.Equal(t, before, f.calls.Load(), "no API calls without a key")

	assert.Equal(t, SourceLocal, NewEstimator(nil, nil).Freight(ctx, p).Source)
}
