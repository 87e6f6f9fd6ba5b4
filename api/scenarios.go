/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos.

AVAILABLE SCENARIOS:

	empty:      Reset only; one Super Admin so someone can log in
	unit-demo:  Super Admin, one treasurer per mess, a unit manager, a pending
	            registration, and members with mixed payment histories

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create login identities (password DemoPassword)
 3. Create member documents with fee years already filled in

Fee years are relative to the ledger's current year so the demo always
shows arrears for the last few completed years.

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "unit-demo"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to SeedScenario

NOTE:

	Scenarios reset the database. The routes only exist in development.

SEE ALSO:
  - handlers.go: Handler, WithScenarios
  - cmd/server/main.go: seed.scenario at startup
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/subs"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DemoPassword is the password of every identity a scenario creates.
const DemoPassword = "mess-demo"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty",
		Name:        "Empty Mess",
		Description: "Clean database with a single Super Admin (admin@mess.local)",
	},
	{
		ID:          "unit-demo",
		Name:        "Unit Demo",
		Description: "Both messes with treasurers, a unit manager, a pending user and members in arrears",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err := h.SeedScenario(r.Context(), req.ScenarioID); err != nil {
		h.fail(w, r, "Failed to load scenario", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// SeedScenario resets the database and loads the named scenario. It is also
// called at startup when seed.scenario is configured.
func (h *Handler) SeedScenario(ctx context.Context, id string) error {
	if !knownScenario(id) {
		return &subs.ValidationError{Field: "scenario_id", Reason: "unknown scenario " + id}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""

	var err error
	switch id {
	case "empty":
		err = h.loadEmptyScenario(ctx)
	case "unit-demo":
		err = h.loadUnitDemoScenario(ctx)
	}
	if err != nil {
		return fmt.Errorf("load scenario %s: %w", id, err)
	}

	h.currentScenario = id
	h.Log.Info("scenario loaded", zap.String("scenario", id))
	return nil
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadEmptyScenario(ctx context.Context) error {
	return h.createIdentity(ctx, demoIdentity{
		memberID: "HQ0001", first: "Grace", surname: "Admin", rank: "Sgt Maj",
		unit: "HQ", email: "admin@mess.local", role: access.RoleSuperAdmin,
	})
}

func (h *Handler) loadUnitDemoScenario(ctx context.Context) error {
	if err := h.loadEmptyScenario(ctx); err != nil {
		return err
	}

	identities := []demoIdentity{
		{memberID: "A1001", first: "Tunde", surname: "Okafor", rank: "Sgt", unit: "1 Bn",
			email: "nco.treasurer@mess.local", role: access.Executive(access.KindMessTreasurer, access.MessNCO)},
		{memberID: "B2001", first: "Ama", surname: "Mensah", rank: "PTE", unit: "1 Bn",
			email: "pte.treasurer@mess.local", role: access.Executive(access.KindMessTreasurer, access.MessPrivates)},
		{memberID: "C3001", first: "Ibrahim", surname: "Bello", rank: "Sgt", unit: "2 Bn",
			email: "manager@mess.local", role: access.RoleUnitManager},
		{memberID: "A1002", first: "Chidi", surname: "Eze", rank: "Cpl", unit: "1 Bn",
			email: "cpl.eze@mess.local", role: access.RoleUser},
		{memberID: "B2003", first: "Kofi", surname: "Asante", rank: "Gnr", unit: "2 Bn",
			email: "pending@mess.local", role: access.RoleTemp},
	}
	for _, id := range identities {
		if err := h.createIdentity(ctx, id); err != nil {
			return err
		}
	}

	y := h.Ledger.CurrentYear()
	paid := func(amount int64, year int, month time.Month) subs.Payment {
		return subs.Payment{
			Amount: decimal.NewFromInt(amount),
			Method: subs.MethodCash,
			Date:   subs.NewDate(year, month, 10),
		}
	}

	members := []subs.Member{
		{
			// Fully paid except last year, which is partial.
			ID: "A1001", FirstName: "Tunde", Surname: "Okafor", Rank: "Sgt", Unit: "1 Bn",
			Email: "nco.treasurer@mess.local", JoinedDate: datePtr(y-3, time.March, 1),
			Fees: subs.Fees{
				y - 3: {Status: subs.StatusPaid, Payments: []subs.Payment{paid(20, y-3, time.April)}},
				y - 2: {Status: subs.StatusPaid, Payments: []subs.Payment{paid(10, y-2, time.February), paid(10, y-2, time.June)}},
				y - 1: {Status: subs.StatusPartial, Payments: []subs.Payment{paid(5, y-1, time.May)}},
			},
		},
		{
			// Joined in November: the first year is exempt.
			ID: "A1002", FirstName: "Chidi", Surname: "Eze", Rank: "Cpl", Unit: "1 Bn",
			Email: "cpl.eze@mess.local", JoinedDate: datePtr(y-2, time.November, 20),
			Fees: subs.Fees{},
		},
		{
			// Posted overseas last year, billed at half rate and paid.
			ID: "B2001", FirstName: "Ama", Surname: "Mensah", Rank: "PTE", Unit: "1 Bn",
			Email: "pte.treasurer@mess.local", JoinedDate: datePtr(y-2, time.January, 15),
			Fees: subs.Fees{
				y - 2: {Status: subs.StatusDue},
				y - 1: {Status: subs.StatusPaid, Overseas: true, Payments: []subs.Payment{paid(5, y-1, time.August)}},
			},
		},
		{
			// Promoted two years ago: that year does not accrue.
			ID: "B2002", FirstName: "Yaw", Surname: "Boateng", Rank: "Trp", Unit: "2 Bn",
			JoinedDate: datePtr(y-4, time.June, 1),
			Fees: subs.Fees{
				y - 2: {Status: subs.StatusDue, PromotedDate: datePtr(y-2, time.July, 1)},
			},
		},
		{
			// Never tracked: owes nothing until a fee year is recorded.
			ID: "C3001", FirstName: "Ibrahim", Surname: "Bello", Rank: "Sgt", Unit: "2 Bn",
			JoinedDate: datePtr(y-1, time.February, 1),
		},
	}
	for _, m := range members {
		m.Role = access.RoleUser
		if err := h.Store.CreateMember(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

type demoIdentity struct {
	memberID, first, surname, rank, unit, email string
	role                                        access.Role
}

func (h *Handler) createIdentity(ctx context.Context, d demoIdentity) error {
	hash, err := access.HashPassword(DemoPassword)
	if err != nil {
		return err
	}
	return h.Store.SaveIdentity(ctx, access.Identity{
		UID:          uuid.NewString(),
		MemberID:     d.memberID,
		FirstName:    d.first,
		Surname:      d.surname,
		Rank:         d.rank,
		Unit:         d.unit,
		Email:        d.email,
		PasswordHash: hash,
		Role:         d.role,
		CreatedAt:    time.Now().UTC(),
	})
}

func datePtr(year int, month time.Month, day int) *subs.Date {
	d := subs.NewDate(year, month, day)
	return &d
}
