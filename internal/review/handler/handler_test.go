package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bgde/vocab-platform/internal/review/phase"
	"github.com/bgde/vocab-platform/internal/review/session"
	"github.com/bgde/vocab-platform/internal/review/sm2"
	apperrors "github.com/bgde/vocab-platform/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	startDir   string
	startLimit int
	answered   []int
	err        error
}

func (f *fakeSessions) Start(_ context.Context, direction string, limit int) (session.Summary, error) {
	f.startDir, f.startLimit = direction, limit
	return session.Summary{ID: "s1", Direction: direction, Total: 2}, f.err
}

func (f *fakeSessions) Answer(_ context.Context, sessionID, itemID string, grade int) (session.Result, error) {
	if f.err != nil {
		return session.Result{}, f.err
	}
	if sessionID != "s1" {
		return session.Result{}, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "session %s", sessionID)
	}
	f.answered = append(f.answered, grade)
	return session.Result{State: sm2.State{ItemID: itemID}, Phase: phase.Lookup(2), Correct: grade >= 3}, nil
}

func (f *fakeSessions) Get(sessionID string) (session.Summary, error) {
	if sessionID != "s1" {
		return session.Summary{}, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "session %s", sessionID)
	}
	return session.Summary{ID: "s1", Answered: 1}, nil
}

func (f *fakeSessions) Item(_ context.Context, itemID, direction string) (session.ItemView, error) {
	return session.ItemView{Card: session.Card{ItemID: itemID}, State: sm2.State{Direction: direction}}, nil
}

func (f *fakeSessions) Phases(_ context.Context, direction, lang string) (session.PhaseOverview, error) {
	return session.PhaseOverview{Direction: direction, Phases: []session.PhaseEntry{{Phase: 1, Name: phase.Name(1, lang)}}}, nil
}

func serve(t *testing.T, s Sessions, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	New(s).Register(mux)
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStartSession(t *testing.T) {
	f := &fakeSessions{}
	rec := serve(t, f, http.MethodPost, "/api/v1/sessions", `{"direction":"de-bg","limit":5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "de-bg", f.startDir)
	assert.Equal(t, 5, f.startLimit)

	var sum session.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, "s1", sum.ID)

	rec = serve(t, f, http.MethodPost, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "", f.startDir)
}

func TestStartSessionValidation(t *testing.T) {
	rec := serve(t, &fakeSessions{}, http.MethodPost, "/api/v1/sessions", `{"direction":"en-fr","limit":-1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "direction")
	assert.Equal(t, "min=0", body.Fields["limit"])

	rec = serve(t, &fakeSessions{}, http.MethodPost, "/api/v1/sessions", `{oops`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnswer(t *testing.T) {
	f := &fakeSessions{}
	rec := serve(t, f, http.MethodPost, "/api/v1/sessions/s1/answers", `{"item_id":"a","grade":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{0}, f.answered)

	var res session.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "a", res.State.ItemID)
	assert.False(t, res.Correct)
}

func TestAnswerValidation(t *testing.T) {
	f := &fakeSessions{}
	rec := serve(t, f, http.MethodPost, "/api/v1/sessions/s1/answers", `{"item_id":"a"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, f, http.MethodPost, "/api/v1/sessions/s1/answers", `{"item_id":"a","grade":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.answered)
}

func TestErrorStatusMapping(t *testing.T) {
	rec := serve(t, &fakeSessions{}, http.MethodPost, "/api/v1/sessions/zzz/answers", `{"item_id":"a","grade":3}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f := &fakeSessions{err: apperrors.Newf(apperrors.ErrSessionDone, http.StatusConflict, "done")}
	rec = serve(t, f, http.MethodPost, "/api/v1/sessions/s1/answers", `{"item_id":"a","grade":3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	f = &fakeSessions{err: errors.New("disk full")}
	rec = serve(t, f, http.MethodPost, "/api/v1/sessions", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk full")
}

func TestGetItemAndPhases(t *testing.T) {
	f := &fakeSessions{}
	rec := serve(t, f, http.MethodGet, "/api/v1/sessions/s1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = serve(t, f, http.MethodGet, "/api/v1/sessions/other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, f, http.MethodGet, "/api/v1/review/items/v-haus?direction=de-bg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var v session.ItemView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, "v-haus", v.Card.ItemID)
	assert.Equal(t, "de-bg", v.State.Direction)

	rec = serve(t, f, http.MethodGet, "/api/v1/review/phases?lang=bg", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ov session.PhaseOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ov))
	assert.Equal(t, "Нов", ov.Phases[0].Name)
}
