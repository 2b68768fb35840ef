package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/quorumfeed/quorumfeed/aggregator"
	"github.com/quorumfeed/quorumfeed/breaker"
	"github.com/quorumfeed/quorumfeed/commitreveal"
	"github.com/quorumfeed/quorumfeed/coordinator"
	"github.com/quorumfeed/quorumfeed/events"
	"github.com/quorumfeed/quorumfeed/ledger"
	"github.com/quorumfeed/quorumfeed/store"
	"github.com/quorumfeed/quorumfeed/types"
)

var testSecret = []byte("test-secret-0123456789abcdef0123")

func testServer(t *testing.T) (*Server, *coordinator.Coordinator) {
	t.Helper()
	logger := log.NewNopLogger()
	params := types.DefaultParams()
	params.MaxSubmissionsPerWindow = 1000
	params.RateLimitWindowSeconds = 1

	st := store.NewMem(params.RingCapacity)
	t.Cleanup(func() { st.Close() })
	em := events.NewEmitter(logger, 1024, 1)
	t.Cleanup(em.Close)

	ldg := ledger.New(logger, st, params, em, nil)
	brk := breaker.New(logger, st, params, em)
	rev := commitreveal.New(logger, st, params, em, nil)
	coord := coordinator.New(logger, st, params, aggregator.New(logger), ldg, brk, rev, em)

	require.NoError(t, st.SetFeed(types.Feed{
		FeedID: "ATOM-USD", MinSources: 3, MaxDeviationBps: 1000,
		StdDevCapBps: 20000, HeartbeatSeconds: 300, Enabled: true,
	}))
	now := time.Now()
	for i := 1; i <= 3; i++ {
		addr := fmt.Sprintf("o%d", i)
		require.NoError(t, ldg.Register(addr, math.NewInt(10_000_000), "", now))
		coord.GrantRole(addr, types.RoleOracle)
	}
	coord.GrantRole("admin", types.RoleAdmin)
	coord.GrantRole("guardian", types.RoleGuardian)

	cfg := DefaultConfig()
	cfg.JWTSecret = testSecret
	srv, err := NewServer(logger, cfg, coord, ldg, rev)
	require.NoError(t, err)
	return srv, coord
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, address, role string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, address, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitRequiresToken(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/v1/feeds/ATOM-USD/reports", "", submitReportRequest{
		Submitter: "o1", Price: "1000", ConfidenceBps: 9000,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/feeds/ATOM-USD/reports", "garbage-token", submitReportRequest{
		Submitter: "o1", Price: "1000", ConfidenceBps: 9000,
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubmitAndQueryFlow(t *testing.T) {
	srv, _ := testServer(t)

	for i, price := range []string{"1000", "1001", "999"} {
		oracle := fmt.Sprintf("o%d", i+1)
		rec := doJSON(t, srv, http.MethodPost, "/v1/feeds/ATOM-USD/reports", token(t, oracle, "oracle"),
			submitReportRequest{Submitter: oracle, Price: price, ConfidenceBps: 9000})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/feeds/ATOM-USD/price", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Stale bool                  `json:"stale"`
		Price types.AggregatedPrice `json:"price"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Stale)
	require.True(t, resp.Price.Median.Equal(math.LegacyNewDec(1000)))

	rec = doJSON(t, srv, http.MethodGet, "/v1/feeds/ATOM-USD/circuit", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodGet, "/v1/oracles/o1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var acct types.OracleAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	require.Equal(t, uint64(1), acct.ValidReports)
}

func TestUnknownFeedIs404(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/v1/feeds/NOPE-USD/price", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminGuardedByRBAC(t *testing.T) {
	srv, _ := testServer(t)

	feed := types.Feed{
		FeedID: "OSMO-USD", MinSources: 3, MaxDeviationBps: 1000,
		StdDevCapBps: 20000, HeartbeatSeconds: 300, Enabled: true,
	}
	// Authenticated but not an admin.
	rec := doJSON(t, srv, http.MethodPost, "/v1/admin/feeds", token(t, "o1", "oracle"), feed)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/admin/feeds", token(t, "admin", "admin"), feed)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestGuardianTripViaAPI(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/admin/circuit/ATOM-USD/trip",
		token(t, "guardian", "guardian"), tripRequest{Reason: "incident"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Submissions now bounce with 503.
	rec = doJSON(t, srv, http.MethodPost, "/v1/feeds/ATOM-USD/reports", token(t, "o1", "oracle"),
		submitReportRequest{Submitter: "o1", Price: "1000", ConfidenceBps: 9000})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/admin/circuit/ATOM-USD/reset",
		token(t, "guardian", "guardian"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOracleLifecycleEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	// Registration is self-service: the token address must match.
	rec := doJSON(t, srv, http.MethodPost, "/v1/oracles", token(t, "o9", "oracle"),
		registerOracleRequest{Address: "someone-else", Stake: "2000000"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/oracles", token(t, "o9", "oracle"),
		registerOracleRequest{Address: "o9", Stake: "2000000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, http.MethodPost, "/v1/oracles/o9/stake", token(t, "o9", "oracle"),
		increaseStakeRequest{Amount: "1000000"})
	require.Equal(t, http.StatusOK, rec.Code)
	var acct types.OracleAccount
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acct))
	require.True(t, acct.StakedAmount.Equal(math.NewInt(3_000_000)))

	rec = doJSON(t, srv, http.MethodGet, "/v1/oracles/o9/slashes", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodDelete, "/v1/oracles/o9", token(t, "o9", "oracle"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Deregistered accounts can register again.
	rec = doJSON(t, srv, http.MethodPost, "/v1/oracles", token(t, "o9", "oracle"),
		registerOracleRequest{Address: "o9", Stake: "2000000"})
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestVerifierAdminEndpoints(t *testing.T) {
	srv, _ := testServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/admin/verifiers", token(t, "o1", "oracle"),
		verifierRequest{Address: "v1"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/admin/verifiers", token(t, "admin", "admin"),
		verifierRequest{Address: "v1"})
	require.Equal(t, http.StatusCreated, rec.Code)

	for i := 0; i < 3; i++ {
		rec = doJSON(t, srv, http.MethodPost, "/v1/admin/verifiers/v1/penalize",
			token(t, "admin", "admin"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	var info types.VerifierInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.True(t, info.Revoked)
}

func TestProofEndpoints(t *testing.T) {
	srv, _ := testServer(t)
	data := []byte("evidence blob")
	ts := time.Now().Unix()
	hash := commitreveal.ComputeCommitment(data, ts, 9)

	rec := doJSON(t, srv, http.MethodPost, "/v1/proofs/commit", token(t, "o1", "oracle"),
		commitRequest{Hash: hash})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate commit conflicts.
	rec = doJSON(t, srv, http.MethodPost, "/v1/proofs/commit", token(t, "o1", "oracle"),
		commitRequest{Hash: hash})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/proofs/reveal", token(t, "o1", "oracle"),
		revealRequest{Hash: hash, Data: data, Timestamp: ts, Nonce: 9})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Wrong nonce on a fresh commitment is a 422.
	hash2 := commitreveal.ComputeCommitment(data, ts, 10)
	rec = doJSON(t, srv, http.MethodPost, "/v1/proofs/commit", token(t, "o1", "oracle"),
		commitRequest{Hash: hash2})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, srv, http.MethodPost, "/v1/proofs/reveal", token(t, "o1", "oracle"),
		revealRequest{Hash: hash2, Data: data, Timestamp: ts, Nonce: 11})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
