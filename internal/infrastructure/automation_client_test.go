package infrastructure

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutomationClient(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Path {
		case "/sessions/continue":
			assert.EqualValues(t, 10, body["conversation_id"])
			assert.Equal(t, "yes", body["input"])
			_, _ = w.Write([]byte(`{"success":true}`))
		case "/automations/3/start":
			assert.Equal(t, "oi", body["trigger"])
			_, _ = w.Write([]byte(`{"success":true,"nodesProcessed":4}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"success":false,"error":"unknown"}`))
		}
	}))
	defer srv.Close()

	c := NewAutomationClient(srv.URL, time.Second, nil)
	ctx := context.Background()

	res, err := c.ContinueSession(ctx, 10, "yes")
	require.NoError(t, err)
	assert.True(t, res.Success)

	res, err = c.StartAutomation(ctx, 3, 10, "oi")
	require.NoError(t, err)
	assert.Equal(t, 4, res.NodesProcessed)

	res, err = c.StartAutomation(ctx, 9, 10, "oi")
	assert.Error(t, err)
	assert.Equal(t, "unknown", res.Error)

	_, err = NewAutomationClient("", time.Second, nil).ContinueSession(ctx, 1, "x")
	assert.Error(t, err)
}
