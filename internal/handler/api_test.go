package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/boost/internal/model"
)

func (app *testApp) api(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, app.srv.URL+"/api"+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (app *testApp) apiSignIn(t *testing.T, email string) TokenResponse {
	t.Helper()
	status := app.api(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": email, "password": "secret123", "full_name": "Ana Student",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	var tok TokenResponse
	status = app.api(t, http.MethodPost, "/auth/token", "", map[string]string{
		"email": email, "password": "secret123",
	}, &tok)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, tok.AccessToken)
	return tok
}

func TestAPISignUpErrors(t *testing.T) {
	app := newTestApp(t, model.AppConfig{}, nil)

	var e errorResponse
	status := app.api(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "not-an-email", "password": "abc", "full_name": "A",
	}, &e)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.ElementsMatch(t, []string{"email", "password"}, e.Fields)

	app.apiSignIn(t, "ana@example.com")
	status = app.api(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email": "ana@example.com", "password": "secret123", "full_name": "Ana",
	}, &e)
	assert.Equal(t, http.StatusConflict, status)

	status = app.api(t, http.MethodPost, "/auth/token", "", map[string]string{
		"email": "ana@example.com", "password": "wrong-pass",
	}, &e)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid email or password", e.Error)
}

func TestAPIRequiresBearer(t *testing.T) {
	app := newTestApp(t, model.AppConfig{}, nil)

	for _, path := range []string{"/auth/session", "/user", "/profile", "/diagnostic/questions"} {
		var e errorResponse
		assert.Equal(t, http.StatusUnauthorized, app.api(t, http.MethodGet, path, "", nil, &e), path)
		assert.Equal(t, http.StatusUnauthorized, app.api(t, http.MethodGet, path, "garbage", nil, &e), path)
	}
}

func TestAPIDiagnosticFlow(t *testing.T) {
	app := newTestApp(t, model.AppConfig{}, nil)
	tok := app.apiSignIn(t, "ana@example.com")
	assert.Equal(t, "ana@example.com", tok.User.Email)

	var sessResp struct {
		Session *model.Session `json:"session"`
	}
	require.Equal(t, http.StatusOK, app.api(t, http.MethodGet, "/auth/session", tok.AccessToken, nil, &sessResp))
	require.NotNil(t, sessResp.Session)
	assert.Equal(t, tok.User.ID, sessResp.Session.UserID)

	var qs struct {
		Questions []model.DiagnosticQuestion `json:"questions"`
	}
	require.Equal(t, http.StatusOK, app.api(t, http.MethodGet, "/diagnostic/questions", tok.AccessToken, nil, &qs))
	assert.Len(t, qs.Questions, 20)

	var e errorResponse
	status := app.api(t, http.MethodPost, "/diagnostic", tok.AccessToken, SubmitRequest{Correct: []int{0, 1}}, &e)
	assert.Equal(t, http.StatusBadRequest, status)

	var out SubmitResponse
	status = app.api(t, http.MethodPost, "/diagnostic", tok.AccessToken,
		SubmitRequest{Correct: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}}, &out)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, 16, out.CorrectAnswers)
	assert.Equal(t, model.LevelB2, out.Level)
	assert.Equal(t, "B2 (Upper intermediate)", out.LevelLabel)
	assert.Equal(t, 20, out.Total)
	assert.NotEmpty(t, out.ResultID)

	var prof struct {
		Profile    *model.Profile          `json:"profile"`
		Latest     *model.DiagnosticResult `json:"latest"`
		LevelLabel string                  `json:"level_label"`
	}
	require.Equal(t, http.StatusOK, app.api(t, http.MethodGet, "/profile", tok.AccessToken, nil, &prof))
	require.NotNil(t, prof.Profile)
	assert.True(t, prof.Profile.DiagnosticCompleted)
	assert.Equal(t, model.LevelB2, prof.Profile.Level)
	assert.Equal(t, out.ResultID, prof.Latest.ID)
	assert.Equal(t, out.LevelLabel, prof.LevelLabel)

	assert.Equal(t, http.StatusNoContent, app.api(t, http.MethodPost, "/auth/logout", tok.AccessToken, nil, nil))
	assert.Equal(t, http.StatusUnauthorized, app.api(t, http.MethodGet, "/auth/session", tok.AccessToken, nil, &e))
}

func TestAPILevelLabelFollowsAcceptLanguage(t *testing.T) {
	app := newTestApp(t, model.AppConfig{}, nil)
	tok := app.apiSignIn(t, "ana@example.com")

	body, err := json.Marshal(SubmitRequest{Correct: []int{1, 2, 3}})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, app.srv.URL+"/api/diagnostic", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept-Language", "es")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out SubmitResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, model.LevelA1, out.Level)
	assert.Equal(t, "A1 (Principiante)", out.LevelLabel)
}

func TestAPIOAuthUnknownProvider(t *testing.T) {
	app := newTestApp(t, model.AppConfig{}, nil)

	var e errorResponse
	assert.Equal(t, http.StatusNotFound, app.api(t, http.MethodGet, "/auth/oauth/google", "", nil, &e))
	assert.Equal(t, http.StatusGone, app.api(t, http.MethodGet, "/auth/oauth/poll?state=missing", "", nil, &e))
}
