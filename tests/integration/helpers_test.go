//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bissquit/pagewatch/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// tokenFor mints a short-lived bearer token for the given responder.
func tokenFor(t *testing.T, responder string) string {
	t.Helper()

	token, err := testIssuer.IssueToken(responder, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return token
}

// asResponder returns a validated client authenticated as the responder.
func asResponder(t *testing.T, responder string) *testutil.Client {
	t.Helper()
	return newTestClient(t).As(tokenFor(t, responder))
}

// webhookClient returns a validated client carrying the webhook secret.
func webhookClient(t *testing.T) *testutil.Client {
	t.Helper()
	client := newTestClient(t)
	client.Secret = testWebhookSecret
	return client
}

// uniqueAccountID returns an account id that no other test team owns.
func uniqueAccountID() string {
	return "acct-" + uuid.NewString()
}

type teamResult struct {
	ID        string
	Slug      string
	AccountID string
}

// createTestTeam creates a team owned by the given responder with one
// fresh account binding and returns its identifiers.
func createTestTeam(t *testing.T, creator, name string) teamResult {
	t.Helper()

	accountID := uniqueAccountID()
	resp, err := asResponder(t, creator).POST("/api/v1/teams", map[string]interface{}{
		"name":        name,
		"account_ids": []string{accountID},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			ID   string `json:"id"`
			Slug string `json:"slug"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)

	return teamResult{ID: result.Data.ID, Slug: result.Data.Slug, AccountID: accountID}
}

// createSlot adds a schedule slot for the team. The caller must be a member.
func createSlot(t *testing.T, caller, teamID, responder string, startsAt, endsAt time.Time) string {
	t.Helper()

	resp, err := asResponder(t, caller).POST(fmt.Sprintf("/api/v1/teams/%s/schedule", teamID), map[string]interface{}{
		"responder": responder,
		"starts_at": startsAt.Format(time.RFC3339),
		"ends_at":   endsAt.Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID
}

// onCallTeam creates a team whose fresh account routes alarms to the
// given responder for the next 24 hours.
func onCallTeam(t *testing.T, creator, name, responder string) teamResult {
	t.Helper()

	team := createTestTeam(t, creator, name)
	now := time.Now().UTC()
	createSlot(t, creator, team.ID, responder, now.Add(-time.Hour), now.Add(24*time.Hour))
	return team
}

type incidentPayload struct {
	ID         string `json:"id"`
	TeamID     string `json:"team_id"`
	AlarmName  string `json:"alarm_name"`
	State      string `json:"state"`
	Severity   string `json:"severity"`
	AssignedTo string `json:"assigned_to"`
	IsGame     bool   `json:"is_game"`
}

// sendAlarm posts an ALARM webhook event and returns the created incident.
func sendAlarm(t *testing.T, alarmName, accountID, severity string) incidentPayload {
	t.Helper()

	resp, err := webhookClient(t).POST("/api/v1/ingest/alarm", map[string]interface{}{
		"alarm_name": alarmName,
		"new_state":  "ALARM",
		"account_id": accountID,
		"severity":   severity,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data incidentPayload `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// getIncident fetches an incident as the given responder.
func getIncident(t *testing.T, responder, id string) incidentPayload {
	t.Helper()

	resp, err := asResponder(t, responder).GET("/api/v1/incidents/" + id)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data incidentPayload `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data
}

// countChanges returns how many change feed rows exist for the incident.
func countChanges(t *testing.T, incidentID string) int {
	t.Helper()

	var n int
	err := testDB.QueryRow(context.Background(),
		`SELECT count(*) FROM incident_changes WHERE incident_id = $1`, incidentID).Scan(&n)
	require.NoError(t, err)
	return n
}

// resetGame force-ends any active session and clears game keys so game
// tests start from a blank board.
func resetGame(t *testing.T) {
	t.Helper()

	client := newTestClientWithoutValidation().As(tokenFor(t, "game-reset"))
	resp, err := client.POST("/api/v1/game/end", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	ctx := context.Background()
	keys, err := testRedis.Keys(ctx, "game:*").Result()
	require.NoError(t, err)
	if len(keys) > 0 {
		require.NoError(t, testRedis.Del(ctx, keys...).Err())
	}
}
