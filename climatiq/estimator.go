package climatiq

import (
	"context"
	"log/slog"
)

// Estimator prefers the API and falls back to the local tables when no key
// is configured or the call fails.
type Estimator struct {
	Client *Client
	Tables *Tables
}

func NewEstimator(client *Client, tables *Tables) *Estimator {
	if tables == nil {
		tables = DefaultTables()
	}
	return &Estimator{Client: client, Tables: tables}
}

func (e *Estimator) Freight(ctx context.Context, p FreightParams) *EmissionResult {
	if e.Client.Configured() {
		res, err := e.Client.Freight(ctx, p)
		if err == nil {
			return res
		}
		slog.WarnContext(ctx, "climatiq freight estimate failed, using local factors", "error", err)
	}
	return e.Tables.Freight(p)
}

func (e *Estimator) Energy(ctx context.Context, p EnergyParams) *EmissionResult {
	if e.Client.Configured() {
		res, err := e.Client.Energy(ctx, p)
		if err == nil {
			return res
		}
		slog.WarnContext(ctx, "climatiq energy estimate failed, using local factors", "error", err)
	}
	return e.Tables.Energy(p)
}

func (e *Estimator) CBEM(ctx context.Context, p CBEMParams) *EmissionResult {
	if e.Client.Configured() {
		res, err := e.Client.CBEM(ctx, p)
		if err == nil {
			return res
		}
		slog.WarnContext(ctx, "climatiq cbem estimate failed, using local factors", "error", err)
	}
	return e.Tables.CBEM(p)
}
