package routes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/ledger-api/internal/http/handlers"
	"github.com/jmylchreest/ledger-api/internal/http/mw"
)

// Register registers all API routes with the given Huma API instance.
// No operation writes to the ledger or starts a migration.
func Register(api huma.API, h *handlers.Handlers) {
	// Kubernetes probe (hidden from docs)
	mw.HiddenGet(api, "/healthz", h.HealthCheck)

	mw.PublicGet(api, "/api/v1/migrations", h.ListMigrations,
		mw.WithTags("Migrations"),
		mw.WithSummary("List migration state"),
		mw.WithDescription("Returns the stored version, the latest known version and the pending steps of every logical database."),
		mw.WithOperationID("listMigrations"))

	mw.PublicGet(api, "/api/v1/wallets/{wallet}/balance", h.GetBalance,
		mw.WithTags("Wallets"),
		mw.WithSummary("Get wallet balance"),
		mw.WithOperationID("getWalletBalance"))

	mw.PublicGet(api, "/api/v1/wallets/{wallet}/payments", h.ListPayments,
		mw.WithTags("Wallets"),
		mw.WithSummary("List wallet payments"),
		mw.WithOperationID("listWalletPayments"),
		mw.WithErrors(http.StatusUnprocessableEntity))
}
