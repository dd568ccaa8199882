//go:build integration

package integration

import (
	"net/http"
	"testing"

	"github.com/bissquit/pagewatch/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestAlarmCreatesRoutedIncident(t *testing.T) {
	team := onCallTeam(t, "ingest-owner", "Ingest Payments", "ingest-oncall")

	inc := sendAlarm(t, "payments-5xx-rate", team.AccountID, "critical")

	assert.Equal(t, team.ID, inc.TeamID)
	assert.Equal(t, "payments-5xx-rate", inc.AlarmName)
	assert.Equal(t, "triggered", inc.State)
	assert.Equal(t, "critical", inc.Severity)
	assert.Equal(t, "ingest-oncall", inc.AssignedTo)
	assert.False(t, inc.IsGame)
}

func TestIngestRejectsBadWebhookSecret(t *testing.T) {
	client := newTestClientWithoutValidation()
	client.Secret = "not-the-secret"

	resp, err := client.POST("/api/v1/ingest/alarm", map[string]interface{}{
		"alarm_name": "whatever",
		"new_state":  "ALARM",
		"account_id": uniqueAccountID(),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestIngestDropsNonAlarmStates(t *testing.T) {
	team := onCallTeam(t, "ingest-ok-owner", "Ingest OK Drops", "ingest-ok-oncall")

	for _, state := range []string{"OK", "INSUFFICIENT_DATA"} {
		resp, err := webhookClient(t).POST("/api/v1/ingest/alarm", map[string]interface{}{
			"alarm_name": "cpu-high",
			"new_state":  state,
			"account_id": team.AccountID,
		})
		require.NoError(t, err)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		var result struct {
			Data struct {
				Status string `json:"status"`
			} `json:"data"`
		}
		testutil.DecodeJSON(t, resp, &result)
		assert.Equal(t, "dropped", result.Data.Status)
	}
}

func TestIngestDropsUnroutableAlarms(t *testing.T) {
	// Nobody owns this account.
	resp, err := webhookClient(t).POST("/api/v1/ingest/alarm", map[string]interface{}{
		"alarm_name": "orphan-alarm",
		"new_state":  "ALARM",
		"account_id": uniqueAccountID(),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var result struct {
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, "dropped", result.Data.Status)

	// Team exists but nobody is on call.
	team := createTestTeam(t, "ingest-gap-owner", "Ingest Coverage Gap")
	resp, err = webhookClient(t).POST("/api/v1/ingest/alarm", map[string]interface{}{
		"alarm_name": "gap-alarm",
		"new_state":  "ALARM",
		"account_id": team.AccountID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, "dropped", result.Data.Status)
}

func TestIngestDefaultsMissingSeverityToCritical(t *testing.T) {
	team := onCallTeam(t, "ingest-sev-owner", "Ingest Severity Default", "ingest-sev-oncall")

	resp, err := webhookClient(t).POST("/api/v1/ingest/alarm", map[string]interface{}{
		"alarm_name": "no-severity-alarm",
		"new_state":  "ALARM",
		"account_id": team.AccountID,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data incidentPayload `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	assert.Equal(t, "critical", result.Data.Severity)
}

func TestIngestValidatesPayload(t *testing.T) {
	resp, err := webhookClient(t).WithoutValidation().POST("/api/v1/ingest/alarm", map[string]interface{}{
		"alarm_name": "bad-state",
		"new_state":  "EXPLODED",
		"account_id": uniqueAccountID(),
	})
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
