package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lingochat/internal/config"
	"lingochat/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		JWTSecret:         testSecret,
		Env:               "test",
		Port:              "0",
		AllowedOrigins:    "*",
		FeatureFlags:      "typing_indicators=on,presence_mirror=on",
		UploadDir:         t.TempDir(),
		UploadMaxBytes:    1 << 20,
		WSMaxConnsPerUser: 2,
		WSMaxTotalConns:   100,
	}
}

// newTestServer wires a server over in-memory SQLite and miniredis with users
// alice, bob and carol.
func newTestServer(t *testing.T) (*Server, *miniredis.Miniredis) {
	t.Helper()
	db := testutil.NewTestDB(t)
	testutil.CreateUsers(t, db, "alice", "bob", "carol")
	mr, rdb := testutil.NewRedis(t)

	s, err := NewServerWithDeps(testConfig(t), db, rdb)
	require.NoError(t, err)
	t.Cleanup(func() { s.mirror.Stop() })
	return s, mr
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// doJSON performs an authenticated request against the app and decodes the body into out when non-nil.
func doJSON(t *testing.T, s *Server, method, path, userID string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}

func openDirect(t *testing.T, s *Server, userID, otherID string) string {
	t.Helper()
	var summary struct {
		ID string `json:"id"`
	}
	status := doJSON(t, s, http.MethodPost, "/api/chat/with/"+otherID, userID, nil, &summary)
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, status)
	require.NotEmpty(t, summary.ID)
	return summary.ID
}
