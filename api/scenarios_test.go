/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state and that
	the scenario routes only exist when enabled.
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/messmate/subs-engine/access"
	"github.com/messmate/subs-engine/subs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_Empty(t *testing.T) {
	h, srv := newSeededServer(t)
	ctx := context.Background()

	// GIVEN: the unit demo is loaded
	// WHEN: the empty scenario replaces it
	require.NoError(t, h.SeedScenario(ctx, "empty"))

	// THEN: only the Super Admin remains
	ids, err := h.Store.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, access.RoleSuperAdmin, ids[0].Role)

	members, err := h.Store.ListMembers(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)

	login(t, srv, adminEmail)
}

func TestScenario_UnitDemo(t *testing.T) {
	h, _ := newSeededServer(t)
	ctx := context.Background()

	ids, err := h.Store.ListIdentities(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 6)

	members, err := h.Store.ListMembers(ctx)
	require.NoError(t, err)
	require.Len(t, members, 5)

	// Every seeded rank classifies, so no roster entry reports a problem.
	for i := range members {
		_, err := subs.TotalOwed(&members[i], testNow.Year())
		assert.NoError(t, err, members[i].ID)
	}
}

func TestScenarioRoutes(t *testing.T) {
	_, srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/scenarios", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 2)

	rec = do(t, srv, http.MethodGet, "/api/scenarios/current", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "unit-demo"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/scenarios/current", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "unit-demo", decode[ScenarioDTO](t, rec).ID)
}

func TestScenarioRoutes_DisabledOutsideDevelopment(t *testing.T) {
	_, srv := newTestServer(t, WithScenarios(false))

	rec := do(t, srv, http.MethodPost, "/api/scenarios/load", "", LoadScenarioRequest{ScenarioID: "empty"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
