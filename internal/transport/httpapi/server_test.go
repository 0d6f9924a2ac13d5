package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilvi89/stupid-tg-bot/internal/adapters/memory"
	"github.com/ilvi89/stupid-tg-bot/internal/runtime"
	"github.com/ilvi89/stupid-tg-bot/pkg/bot"
	"github.com/ilvi89/stupid-tg-bot/pkg/builder"
	"github.com/ilvi89/stupid-tg-bot/pkg/dialog"
	"github.com/ilvi89/stupid-tg-bot/pkg/registry"
	"github.com/ilvi89/stupid-tg-bot/pkg/session"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	reg := registry.New()
	reg.MustRegister(registry.Scenario{
		Chain: builder.New("echo", "Echo").
			StartWith("ask").
			Question("ask", "Say something:", "done", dialog.NotEmpty()).
			Final("done", "You said: {ask}").
			MustBuild(),
		Triggers: []string{"/echo"},
		Category: registry.CategoryGeneral,
	})
	engine := runtime.New(reg, session.NewManager(memory.NewStore()))
	app, err := bot.New(engine, reg)
	require.NoError(t, err)
	return New(app)
}

func postInput(t *testing.T, s *Server, path, input string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"input": input})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestServer_DialogRoundTrip(t *testing.T) {
	s := testServer(t)

	rec := postInput(t, s, "/v1/dialogs/1/2/input", "/echo")
	require.Equal(t, http.StatusOK, rec.Code)

	var turn dialog.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	require.NotNil(t, turn.Prompt)
	assert.Equal(t, []string{"Say something:"}, turn.Prompt.Messages)

	rec = postInput(t, s, "/v1/dialogs/1/2/input", "hello")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	require.NotNil(t, turn.Completion)
	assert.Equal(t, "echo", turn.Completion.ChainID)
}

func TestServer_ResumeWithoutSession(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/dialogs/1/2/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ResumeActiveSession(t *testing.T) {
	s := testServer(t)
	postInput(t, s, "/v1/dialogs/1/2/input", "/echo")

	req := httptest.NewRequest(http.MethodGet, "/v1/dialogs/1/2/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var turn dialog.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &turn))
	assert.Equal(t, "ask", turn.Prompt.StepID)
}

func TestServer_Cancel(t *testing.T) {
	s := testServer(t)
	postInput(t, s, "/v1/dialogs/1/2/input", "/echo")

	req := httptest.NewRequest(http.MethodPost, "/v1/dialogs/1/2/cancel", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/dialogs/1/2/", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BadIdentity(t *testing.T) {
	s := testServer(t)
	rec := postInput(t, s, "/v1/dialogs/not-a-number/2/input", "hi")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Scenarios(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/scenarios", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out []scenarioSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "echo", out[0].ID)
	assert.True(t, out[0].Enabled)
}

func TestServer_Stats(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/scenarios/stats", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats registry.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
}

func TestServer_Healthz(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
