package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/kiliankoe/lastword/internal/game"
)

func init() { gin.SetMode(gin.TestMode) }

type testServer struct {
	rm     *game.Registry
	router *gin.Engine
	opened []string
}

func newTestServer(t *testing.T, ranker game.RankingPort, opts ...Option) *testServer {
	t.Helper()
	rm := game.NewRegistry(game.Deps{
		Clock: clockwork.NewFakeClock(),
		Questions: game.QuestionFunc(func(_ context.Context, _ string, turn int) (string, error) {
			return fmt.Sprintf("Q%d", turn), nil
		}),
		Ranker: ranker,
	})
	t.Cleanup(rm.Shutdown)
	ts := &testServer{rm: rm, router: gin.New()}
	opts = append([]Option{WithCollector(func(s *game.Session) { ts.opened = append(ts.opened, s.Code) })}, opts...)
	New(rm, opts...).Register(ts.router, gin.BasicAuth(gin.Accounts{"gm": "pw"}))
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, operator bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if operator {
		req.SetBasicAuth("gm", "pw")
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type created struct {
	SessionCode string     `json:"sessionCode"`
	HostToken   string     `json:"hostToken"`
	State       game.State `json:"state"`
}

type joined struct {
	Contestant game.Contestant `json:"contestant"`
}

type errBody struct {
	Error  string           `json:"error"`
	Result *game.TurnResult `json:"result"`
}

func TestFullGameOverREST(t *testing.T) {
	ranker := game.RankingFunc(func(context.Context, string, []string) ([]float64, error) {
		return []float64{3, 1, 2}, nil
	})
	ts := newTestServer(t, ranker)

	w := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"config": map[string]any{"minContestants": 3}}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", w.Code, w.Body)
	}
	code := decode[created](t, w).SessionCode

	ids := map[string]string{}
	for _, n := range []string{"A", "B", "C"} {
		w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/contestants", map[string]any{"displayName": n}, false)
		if w.Code != http.StatusCreated {
			t.Fatalf("join %s: %d %s", n, w.Code, w.Body)
		}
		ids[n] = decode[joined](t, w).Contestant.ID
	}

	if w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/start", nil, true); w.Code != http.StatusOK {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/turns", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("open turn: %d %s", w.Code, w.Body)
	}
	if st := decode[game.State](t, w); st.Turn != 1 || st.CurrentQuestion != "Q1" {
		t.Fatalf("unexpected turn state %+v", st)
	}
	if len(ts.opened) != 0 {
		t.Fatal("collector should not run without automated contestants")
	}

	for i, n := range []string{"A", "B", "C"} {
		w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/answers", map[string]any{"contestantId": ids[n], "text": fmt.Sprintf("a%d", i+1)}, false)
		if w.Code != http.StatusOK {
			t.Fatalf("submit %s: %d %s", n, w.Code, w.Body)
		}
	}

	w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/close", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("close: %d %s", w.Code, w.Body)
	}
	res := decode[struct {
		Closed bool            `json:"closed"`
		Result game.TurnResult `json:"result"`
	}](t, w)
	if !res.Closed || res.Result.Eliminated != ids["B"] {
		t.Fatalf("expected B eliminated, got %+v", res)
	}

	w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/close", nil, true)
	if w.Code != http.StatusOK || decode[struct {
		Closed bool `json:"closed"`
	}](t, w).Closed {
		t.Fatalf("second close should be a no-op, got %d %s", w.Code, w.Body)
	}
}

func TestOperatorRoutesNeedAuth(t *testing.T) {
	ts := newTestServer(t, nil)
	if w := ts.do(t, http.MethodPost, "/api/sessions", nil, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/sessions", nil, false); w.Code != http.StatusOK {
		t.Fatalf("listing should be public, got %d", w.Code)
	}
}

func TestPublicReadsHideAnswerTexts(t *testing.T) {
	ts := newTestServer(t, nil)
	cr := decode[created](t, ts.do(t, http.MethodPost, "/api/sessions", nil, true))
	if cr.HostToken == "" {
		t.Fatal("create should hand out a host token")
	}
	code := cr.SessionCode
	var ids []string
	for _, n := range []string{"A", "B"} {
		w := ts.do(t, http.MethodPost, "/api/sessions/"+code+"/contestants", map[string]any{"displayName": n}, false)
		ids = append(ids, decode[joined](t, w).Contestant.ID)
	}
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/start", nil, true)
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/turns", nil, true)
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/answers", map[string]any{"contestantId": ids[0], "text": "secret"}, false)

	w := ts.do(t, http.MethodGet, "/api/sessions/"+code, nil, false)
	st := decode[game.State](t, w)
	if text, ok := st.PendingAnswers[ids[0]]; !ok || text != "" {
		t.Fatalf("public state should show who answered but not the text, got %v", st.PendingAnswers)
	}

	list := decode[struct {
		Sessions []game.State `json:"sessions"`
	}](t, ts.do(t, http.MethodGet, "/api/sessions", nil, false))
	if len(list.Sessions) != 1 || list.Sessions[0].PendingAnswers[ids[0]] != "" {
		t.Fatalf("public list should hide answer texts, got %+v", list.Sessions)
	}

	if w := ts.do(t, http.MethodGet, "/api/sessions/"+code+"/full", nil, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("full state should need operator auth, got %d", w.Code)
	}
	full := decode[game.State](t, ts.do(t, http.MethodGet, "/api/sessions/"+code+"/full", nil, true))
	if full.PendingAnswers[ids[0]] != "secret" {
		t.Fatalf("operator should see answer texts, got %v", full.PendingAnswers)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/sessions/NOPE1", nil, false)
	if w.Code != http.StatusNotFound || decode[errBody](t, w).Error != "unknown_session" {
		t.Fatalf("expected 404 unknown_session, got %d %s", w.Code, w.Body)
	}

	code := decode[created](t, ts.do(t, http.MethodPost, "/api/sessions", nil, true)).SessionCode
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/contestants", map[string]any{"displayName": "A"}, false)

	w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/start", nil, true)
	if w.Code != http.StatusUnprocessableEntity || decode[errBody](t, w).Error != "insufficient_players" {
		t.Fatalf("expected 422 insufficient_players, got %d %s", w.Code, w.Body)
	}

	w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/answers", map[string]any{"contestantId": "ghost", "text": "x"}, false)
	if w.Code != http.StatusNotFound || decode[errBody](t, w).Error != "unknown_contestant" {
		t.Fatalf("expected 404 unknown_contestant, got %d %s", w.Code, w.Body)
	}

	w = ts.do(t, http.MethodPost, "/api/sessions/"+code+"/contestants", map[string]any{}, false)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing display name should be rejected, got %d", w.Code)
	}
}

func TestRankingUnavailableReturnsPartialResult(t *testing.T) {
	ranker := game.RankingFunc(func(context.Context, string, []string) ([]float64, error) {
		return nil, errors.New("model down")
	})
	ts := newTestServer(t, ranker)
	code := decode[created](t, ts.do(t, http.MethodPost, "/api/sessions", nil, true)).SessionCode
	var ids []string
	for _, n := range []string{"A", "B", "C"} {
		w := ts.do(t, http.MethodPost, "/api/sessions/"+code+"/contestants", map[string]any{"displayName": n}, false)
		ids = append(ids, decode[joined](t, w).Contestant.ID)
	}
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/start", nil, true)
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/turns", nil, true)
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/answers", map[string]any{"contestantId": ids[0], "text": "a"}, false)
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/answers", map[string]any{"contestantId": ids[1], "text": "b"}, false)

	w := ts.do(t, http.MethodPost, "/api/sessions/"+code+"/close", nil, true)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d %s", w.Code, w.Body)
	}
	body := decode[errBody](t, w)
	if body.Error != "ranking_unavailable" || body.Result == nil || len(body.Result.Forfeited) != 1 || body.Result.Forfeited[0] != ids[2] {
		t.Fatalf("expected partial result with C forfeited, got %+v", body)
	}
}

func TestSingleSessionAndActive(t *testing.T) {
	ts := newTestServer(t, nil, WithSingleSession(true), WithDefaults(game.SessionConfig{AnswerWindowSeconds: 60}))

	if w := ts.do(t, http.MethodGet, "/api/session/active", nil, false); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without sessions, got %d", w.Code)
	}
	w := ts.do(t, http.MethodPost, "/api/sessions", nil, true)
	first := decode[created](t, w)
	if first.State.AnswerWindowSeconds != 60 {
		t.Fatalf("server defaults should apply, got %d", first.State.AnswerWindowSeconds)
	}
	if w = ts.do(t, http.MethodPost, "/api/sessions", nil, true); w.Code != http.StatusConflict {
		t.Fatalf("second session should be refused, got %d", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/session/active", nil, false)
	if decode[created](t, w).SessionCode != first.SessionCode {
		t.Fatalf("unexpected active session %s", w.Body)
	}

	if w = ts.do(t, http.MethodPost, "/api/sessions/"+first.SessionCode+"/abort", map[string]any{"reason": "test"}, true); w.Code != http.StatusOK {
		t.Fatalf("abort: %d %s", w.Code, w.Body)
	}
	if w = ts.do(t, http.MethodPost, "/api/sessions", nil, true); w.Code != http.StatusCreated {
		t.Fatalf("finished session should not block a new one, got %d", w.Code)
	}
	if w = ts.do(t, http.MethodDelete, "/api/sessions/"+first.SessionCode, nil, true); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
}

func TestOpenTurnTriggersCollector(t *testing.T) {
	ts := newTestServer(t, nil)
	code := decode[created](t, ts.do(t, http.MethodPost, "/api/sessions", nil, true)).SessionCode
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/contestants", map[string]any{"displayName": "human"}, false)
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/contestants", map[string]any{"displayName": "bot", "source": "automated"}, false)
	ts.do(t, http.MethodPost, "/api/sessions/"+code+"/start", nil, true)
	if w := ts.do(t, http.MethodPost, "/api/sessions/"+code+"/turns", nil, true); w.Code != http.StatusOK {
		t.Fatalf("open: %d %s", w.Code, w.Body)
	}
	if len(ts.opened) != 1 || ts.opened[0] != code {
		t.Fatalf("collector should run once for %s, got %v", code, ts.opened)
	}

	w := ts.do(t, http.MethodPost, "/api/sessions/"+code+"/automated", nil, true)
	if w.Code != http.StatusServiceUnavailable || decode[errBody](t, w).Error != "no_answerer" {
		t.Fatalf("expected 503 no_answerer, got %d %s", w.Code, w.Body)
	}
}
