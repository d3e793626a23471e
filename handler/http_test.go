package handler

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPHandler_Verification(t *testing.T) {
	h, _ := newTestHandler(t, &stubReplier{})
	srv := httptest.NewServer(NewHTTPHandler(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=42")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "42", string(body))
	require.NotEmpty(t, resp.Header.Get(correlationHeader))
}

func TestHTTPHandler_PostMessage(t *testing.T) {
	r := &stubReplier{}
	h, _ := newTestHandler(t, r)
	srv := httptest.NewServer(NewHTTPHandler(h))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(messageEvent))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(correlationHeader, "corr-http")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Equal(t, "corr-http", resp.Header.Get(correlationHeader))
	require.JSONEq(t, `{"status":"success"}`, string(body))
	calls := r.received()
	require.Len(t, calls, 1)
	require.Equal(t, "U1", calls[0].UserID)
}
