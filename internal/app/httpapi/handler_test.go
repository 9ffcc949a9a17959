package httpapi

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/R3E-Network/provenance_layer/internal/app"
	"github.com/R3E-Network/provenance_layer/internal/app/storage/memory"
	"github.com/R3E-Network/provenance_layer/internal/config"
	"github.com/R3E-Network/provenance_layer/internal/engine/events"
	"github.com/R3E-Network/provenance_layer/internal/engine/ledger"
	"github.com/R3E-Network/provenance_layer/internal/fingerprint"
	"github.com/R3E-Network/provenance_layer/pkg/logger"
)

const adminAddr = "NAdmin"

type fixture struct {
	t       *testing.T
	app     *app.Application
	handler http.Handler
	clock   *ledger.ManualClock
	seq     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.Admins = []string{adminAddr}
	cfg.Sweeper.Enabled = false
	cfg.Server.RateLimit = 0

	clock := ledger.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	application, err := app.New(cfg, memory.New(), clock, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { application.Close() })

	return &fixture{t: t, app: application, handler: NewHandler(application, logger.Discard()), clock: clock}
}

func (f *fixture) token(addr string) string {
	session, err := f.app.Auth.IssueToken(addr, "test")
	require.NoError(f.t, err)
	return session.Token
}

// do sends a JSON request as addr ("" for anonymous) and decodes the
// response into out when non-nil.
func (f *fixture) do(method, path, addr string, body any, out any) int {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if addr != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(addr))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func (f *fixture) fingerprint() string {
	f.seq++
	raw, err := fingerprint.Compute(fingerprint.SHA256, []byte(fmt.Sprintf("clip-%d", f.seq)))
	require.NoError(f.t, err)
	return fingerprint.Canonical(raw)
}

func (f *fixture) registerContent(owner string) string {
	var rec map[string]any
	code := f.do(http.MethodPost, "/content", owner, map[string]any{"fingerprint": f.fingerprint(), "blob_ref": "ipfs://x"}, &rec)
	require.Equal(f.t, http.StatusCreated, code)
	return rec["id"].(string)
}

type apiError struct {
	Code  string `json:"code"`
	Class string `json:"class"`
}

func TestHealthAndUnknownRoute(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", nil, nil))

	var e apiError
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nope", "", nil, &e))
	assert.Equal(t, "NotFound", e.Code)

	var status SystemStatus
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/system/status", "", nil, &status))
	assert.Equal(t, "memory", status.StorageDriver)
	assert.Contains(t, status.Services, "oracle-dispatcher")
}

func TestContentEndpoints(t *testing.T) {
	f := newFixture(t)

	var e apiError
	code := f.do(http.MethodPost, "/content", "", map[string]any{"fingerprint": f.fingerprint()}, &e)
	assert.Equal(t, http.StatusUnauthorized, code, "anonymous writes are rejected")
	assert.Equal(t, "Unauthenticated", e.Code)

	fp := f.fingerprint()
	var rec map[string]any
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/content", "NAlice", map[string]any{"fingerprint": fp}, &rec))
	id := rec["id"].(string)
	assert.Equal(t, "NAlice", rec["owner"])
	assert.EqualValues(t, 50, rec["trust_score"])

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/content", "NBob", map[string]any{"fingerprint": fp}, &e))
	assert.Equal(t, "DuplicateFingerprint", e.Code)

	var got map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/content/by-fingerprint/"+fp, "", nil, &got))
	assert.Equal(t, id, got["id"])

	var reg map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/fingerprints/"+fp, "", nil, &reg))
	assert.Equal(t, true, reg["registered"])

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPut, "/content/"+id+"/metadata", "NBob", map[string]string{"key": "k", "value": "v"}, &e))
	assert.Equal(t, "NotOwner", e.Code)

	var pending map[string]any
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/content/"+id+"/transfers", "NAlice", map[string]string{"to": "NBob"}, &pending))
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/transfers/redeem", "NBob", map[string]string{"token": pending["token"].(string)}, &got))
	assert.Equal(t, "NBob", got["owner"])

	var owned []map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/content/by-owner/NBob", "", nil, &owned))
	assert.Len(t, owned, 1)
}

func TestVerificationFlowOverHTTP(t *testing.T) {
	f := newFixture(t)
	contentID := f.registerContent("NAlice")

	var e apiError
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/verifiers", "NLow", map[string]int{"stake": 999}, &e))
	assert.Equal(t, "InsufficientStake", e.Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/verifiers", "NBob", map[string]int{"stake": 2000}, nil))

	var power map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/verifiers/NBob/power", "", nil, &power))
	assert.EqualValues(t, 200, power["voting_power"])

	var task map[string]any
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/tasks", "NAlice", map[string]any{"content_id": contentID, "payment": 500}, &task))
	taskID := task["id"].(string)
	assert.EqualValues(t, 400, task["reward_amount"])

	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/tasks/"+taskID+"/votes", "NBob", map[string]bool{"approve": true}, &task))
	assert.EqualValues(t, 200, task["votes_for"])
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/tasks/"+taskID+"/votes", "NBob", map[string]bool{"approve": true}, &e))
	assert.Equal(t, "AlreadyVoted", e.Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/tasks/"+taskID+"/votes", "NAlice", map[string]any{"verifier": "NBob", "approve": false}, &e))

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/tasks/"+taskID+"/finalize", "NAlice", nil, &e))
	assert.Equal(t, "VotingOpen", e.Code)

	f.clock.Advance(25 * time.Hour)
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/tasks/"+taskID+"/finalize", "NAlice", nil, &task))
	assert.Equal(t, true, task["result"])

	var claim map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/tasks/"+taskID+"/claim", "NBob", nil, &claim))
	assert.EqualValues(t, 400, claim["amount"])

	var content map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/content/"+contentID, "", nil, &content))
	assert.EqualValues(t, 85, content["trust_score"])
}

func TestAdminCapabilityAndSlash(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/verifiers", "NBob", map[string]int{"stake": 1000}, nil))

	var e apiError
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/admin/capabilities", "NBob",
		map[string]string{"action": "verifier.slash", "entity_id": "NBob"}, &e))
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/admin/capabilities", "NBob", nil, &e))

	var issued struct {
		Token string `json:"token"`
	}
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/admin/capabilities", adminAddr,
		map[string]string{"action": "verifier.slash", "entity_id": "NBob", "ttl": "5m"}, &issued))
	require.NotEmpty(t, issued.Token)

	var v map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/verifiers/NBob/slash", adminAddr, map[string]string{"capability": issued.Token}, &v))
	assert.Equal(t, false, v["active"])
	assert.EqualValues(t, 900, v["stake"])

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/verifiers/NBob/slash", adminAddr, map[string]string{"capability": issued.Token}, &e))
	assert.Equal(t, "InvalidCapability", e.Code, "capabilities are single use")

	var result map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/admin/sweep", adminAddr, nil, &result))
	assert.EqualValues(t, 0, result["failed"])
}

func TestAccessAuthorizeOverHTTP(t *testing.T) {
	f := newFixture(t)
	contentID := f.registerContent("NAlice")

	var policy map[string]any
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/policies", "NAlice",
		map[string]any{"content_id": contentID, "key_ref": "kms://key"}, &policy))
	policyID := policy["id"].(string)

	var e apiError
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/policies/"+policyID+"/authorize", "NCarol", map[string]any{}, &e))
	assert.Equal(t, "AccessDenied", e.Code)

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/policies/"+policyID+"/grants", "NAlice",
		map[string]any{"grantee": "NCarol", "role": "viewer", "key_fragment": "frag"}, nil))
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/policies/"+policyID+"/conditions", "NAlice",
		map[string]string{"type": "min", "parameter": "age", "value": "18"}, nil))

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/policies/"+policyID+"/authorize", "NCarol",
		map[string]any{"evidence": map[string]int{"age": 16}}, &e))

	var decision map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/policies/"+policyID+"/authorize", "NCarol",
		map[string]any{"evidence": map[string]int{"age": 21}}, &decision))
	assert.Equal(t, "viewer", decision["basis"])
	assert.Equal(t, "frag", decision["key_fragment"])

	var reqs []map[string]any
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/policies/"+policyID+"/requests?status=bogus", "", nil, &e))
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/policies/"+policyID+"/requests", "NAlice", nil, &reqs))
	assert.Empty(t, reqs)
}

func TestAccessReadsHideKeyMaterial(t *testing.T) {
	f := newFixture(t)
	contentID := f.registerContent("NAlice")

	var policy map[string]any
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/policies", "NAlice",
		map[string]any{"content_id": contentID, "key_ref": "kms://key"}, &policy))
	policyID := policy["id"].(string)

	var grant map[string]any
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/policies/"+policyID+"/grants", "NAlice",
		map[string]any{"grantee": "NCarol", "role": "viewer", "key_fragment": "secret-frag"}, &grant))
	grantID := grant["id"].(string)
	assert.NotContains(t, grant, "key_fragment")

	var e apiError
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/policies/"+policyID+"/grants", "", nil, &e))
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/policies/"+policyID+"/grants", "NMallory", nil, &e))
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/grants/"+grantID, "", nil, &e))
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/grants/"+grantID, "NMallory", nil, &e))
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/policies/"+policyID, "", nil, &e))
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/policies/"+policyID+"/requests", "NMallory", nil, &e))

	var outsider map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/policies/"+policyID, "NMallory", nil, &outsider))
	assert.NotContains(t, outsider, "key_ref")
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/content/"+contentID+"/policy", "NMallory", nil, &outsider))
	assert.NotContains(t, outsider, "key_ref")

	var owned map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/policies/"+policyID, "NAlice", nil, &owned))
	assert.Equal(t, "kms://key", owned["key_ref"])

	var grants []map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/policies/"+policyID+"/grants", "NAlice", nil, &grants))
	require.Len(t, grants, 1)
	assert.NotContains(t, grants[0], "key_fragment")

	var own map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/grants/"+grantID, "NCarol", nil, &own))
	assert.NotContains(t, own, "key_fragment")
	assert.Equal(t, true, own["valid"])

	var decision map[string]any
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/policies/"+policyID+"/authorize", "NCarol", map[string]any{}, &decision))
	assert.Equal(t, "secret-frag", decision["key_fragment"])
}

func TestEventLogQuery(t *testing.T) {
	f := newFixture(t)
	f.registerContent("NAlice")
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/verifiers", "NBob", map[string]int{"stake": 1000}, nil))

	var page struct {
		Events []events.Record `json:"events"`
		Next   uint64          `json:"next"`
	}
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/events?type=content.registered", "", nil, &page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, events.ContentRegistered, page.Events[0].Type)
	assert.NotZero(t, page.Next)

	var e apiError
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/events?after=x", "", nil, &e))
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/events/ws?type=content.registered"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	contentID := f.registerContent("NAlice")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var rec events.Record
	require.NoError(t, conn.ReadJSON(&rec))
	assert.Equal(t, events.ContentRegistered, rec.Type)
	assert.Equal(t, contentID, rec.EntityID)
}

func TestWalletLoginOverHTTP(t *testing.T) {
	f := newFixture(t)
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	addr := priv.Address()

	var ch struct {
		Nonce   string `json:"nonce"`
		Message string `json:"message"`
	}
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/auth/challenge", "", map[string]string{"address": addr}, &ch))

	var session struct {
		Token string `json:"token"`
	}
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/auth/login", "", map[string]string{
		"address":    addr,
		"nonce":      ch.Nonce,
		"public_key": hex.EncodeToString(priv.PublicKey().Bytes()),
		"signature":  hex.EncodeToString(priv.Sign([]byte(ch.Message))),
	}, &session))

	req := httptest.NewRequest(http.MethodPost, "/verifiers", strings.NewReader(`{"stake":1000}`))
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var v map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, addr, v["address"])

	req = httptest.NewRequest(http.MethodGet, "/treasury", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
