package server

import (
	"net/http"

	"github.com/gorilla/mux"

	ct "github.com/dennislee928/carbontrade"
	"github.com/dennislee928/carbontrade/climatiq"
)

type FreightRequest struct {
	DistanceKM    float64 `json:"distance_km"`
	WeightKG      float64 `json:"weight_kg"`
	TransportMode string  `json:"transport_mode"`
}

type EnergyRequest struct {
	Energy     float64 `json:"energy"`
	EnergyUnit string  `json:"energy_unit"`
	EnergyType string  `json:"energy_type"`
	Country    string  `json:"country"`
}

type CBEMRequest struct {
	Product  string  `json:"product"`
	Quantity float64 `json:"quantity"`
	Region   string  `json:"region"`
}

// Emission estimates are public; ?local=true skips the Climatiq API.
func (a *App) emissionRoutes(em *mux.Router) {
	em.HandleFunc("/freight", a.handleFreightEstimate).Methods(http.MethodPost)
	em.HandleFunc("/energy", a.handleEnergyEstimate).Methods(http.MethodPost)
	em.HandleFunc("/cbem", a.handleCBEMEstimate).Methods(http.MethodPost)
}

func positive(w http.ResponseWriter, field string, v float64) bool {
	if v <= 0 {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeInvalidField, field+" must be positive", field))
		return false
	}
	return true
}

func (a *App) estimator(r *http.Request) *climatiq.Estimator {
	if b := queryBool(r, "local"); b != nil && *b {
		return &climatiq.Estimator{Tables: a.Estimator.Tables}
	}
	return a.Estimator
}

func (a *App) handleFreightEstimate(w http.ResponseWriter, r *http.Request) {
	var req FreightRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !positive(w, "distance_km", req.DistanceKM) || !positive(w, "weight_kg", req.WeightKG) {
		return
	}
	res := a.estimator(r).Freight(r.Context(), climatiq.FreightParams{
		DistanceKM: req.DistanceKM,
		WeightKG:   req.WeightKG,
		Mode:       req.TransportMode,
	})
	ct.WriteData(w, http.StatusOK, res, "")
}

func (a *App) handleEnergyEstimate(w http.ResponseWriter, r *http.Request) {
	var req EnergyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !positive(w, "energy", req.Energy) {
		return
	}
	res := a.estimator(r).Energy(r.Context(), climatiq.EnergyParams{
		Energy:  req.Energy,
		Unit:    req.EnergyUnit,
		Type:    req.EnergyType,
		Country: req.Country,
	})
	ct.WriteData(w, http.StatusOK, res, "")
}

func (a *App) handleCBEMEstimate(w http.ResponseWriter, r *http.Request) {
	var req CBEMRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Product == "" {
		ct.WriteAuthError(w, ct.NewAuthError(ct.ErrCodeMissingField, "product is required", "product"))
		return
	}
	if !positive(w, "quantity", req.Quantity) {
		return
	}
	res := a.estimator(r).CBEM(r.Context(), climatiq.CBEMParams{
		Product:  req.Product,
		Quantity: req.Quantity,
		Region:   req.Region,
	})
	ct.WriteData(w, http.StatusOK, res, "")
}
