// Package routes provides shared route registration for the ledger API.
// This allows both the main server and the OpenAPI generator to use
// the same route definitions, so the served API and the generated OpenAPI document never drift.
package routes

import (
	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/ledger-api/internal/version"
)

// NewHumaConfig creates the shared Huma configuration for the API.
func NewHumaConfig(baseURL string) huma.Config {
	cfg := huma.DefaultConfig("Ledger API", version.Get().Short())
	cfg.Info.Description = "Read-only access to wallet balances, payments and schema migration state."

	// Disable $schema field in responses
	cfg.CreateHooks = nil

	if baseURL != "" {
		cfg.Servers = []*huma.Server{
			{URL: baseURL, Description: "API Server"},
		}
	}

	cfg.Tags = []*huma.Tag{
		{Name: "Wallets", Description: "Wallet balances and payments", Extensions: map[string]any{"x-displayName": "Wallets"}},
		{Name: "Migrations", Description: "Schema version of each logical database", Extensions: map[string]any{"x-displayName": "Migrations"}},
		{Name: "Health", Description: "System health and status", Extensions: map[string]any{"x-displayName": "Health"}},
	}

	return cfg
}
