package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"pool_gateway/internal/oauth"
)

type fakeOAuthFlow struct {
	token     *oauth.Token
	exchanged []string
}

func (f *fakeOAuthFlow) AuthURL(state string) (string, error) {
	return "https://accounts.example.com/auth?state=" + url.QueryEscape(state), nil
}

func (f *fakeOAuthFlow) Exchange(ctx context.Context, code string) (*oauth.Token, error) {
	f.exchanged = append(f.exchanged, code)
	if code == "bad-code" {
		return nil, errors.New("invalid_grant")
	}
	return f.token, nil
}

func (f *fakeOAuthFlow) FetchEmail(ctx context.Context, accessToken string) (string, error) {
	return "donor@gmail.com", nil
}

func (f *fakeOAuthFlow) DiscoverProject(ctx context.Context, accessToken string) (string, error) {
	return "discovered-project", nil
}

func newOAuthEnv(t *testing.T) (*testEnv, *fakeOAuthFlow) {
	env := newTestEnv(t)
	flow := &fakeOAuthFlow{token: &oauth.Token{
		AccessToken:  "ya29.access",
		RefreshToken: "1//refresh",
		ExpiresIn:    3599,
	}}
	env.deps.OAuth = flow
	return env, flow
}

func issueState(t *testing.T, env *testEnv, key string) string {
	t.Helper()
	w := env.do(t, http.MethodGet, "/api/oauth/auth-url", key, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	state := gjson.Get(w.Body.String(), "state").String()
	require.NotEmpty(t, state)
	assert.Contains(t, gjson.Get(w.Body.String(), "auth_url").String(), url.QueryEscape(state))
	return state
}

func TestOAuth_CallbackRegistersGrant(t *testing.T) {
	env, flow := newOAuthEnv(t)
	donor, key := env.owner(t, "donor", 100, false)

	state := issueState(t, env, key)
	callback := "http://localhost:8080/callback?code=good-code&state=" + url.QueryEscape(state)

	w := env.do(t, http.MethodPost, "/api/oauth/callback", key, map[string]interface{}{
		"callback_url": callback,
		"is_public":    true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := w.Body.String()
	assert.True(t, gjson.Get(body, "supports_gemini").Bool())
	assert.Equal(t, "donor@gmail.com", gjson.Get(body, "email").String())
	assert.Equal(t, "discovered-project", gjson.Get(body, "project_id").String())
	assert.Equal(t, []string{"good-code"}, flow.exchanged)
	assert.Equal(t, 900, env.ceiling(t, donor.ID))

	creds, err := env.deps.Pool.Credentials(context.Background(), donor.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	bundle, err := env.deps.Pool.Decrypt(creds[0])
	require.NoError(t, err)
	assert.Equal(t, "1//refresh", bundle.RefreshToken)
	assert.True(t, bundle.Refreshable())

	// states are single use
	w = env.do(t, http.MethodPost, "/api/oauth/callback", key, map[string]interface{}{
		"code":  "good-code",
		"state": state,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOAuth_StateBoundToIssuer(t *testing.T) {
	env, flow := newOAuthEnv(t)
	_, aliceKey := env.owner(t, "alice", 100, false)
	_, bobKey := env.owner(t, "bob", 100, false)

	state := issueState(t, env, aliceKey)

	w := env.do(t, http.MethodPost, "/api/oauth/callback", bobKey, map[string]interface{}{
		"code":  "good-code",
		"state": state,
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, flow.exchanged)
}

func TestOAuth_CallbackErrors(t *testing.T) {
	env, flow := newOAuthEnv(t)
	_, key := env.owner(t, "donor", 100, false)

	t.Run("denied consent", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/oauth/callback", key, map[string]interface{}{
			"callback_url": "http://localhost:8080/callback?error=access_denied",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "access_denied")
	})

	t.Run("missing params", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/oauth/callback", key, map[string]interface{}{"code": "x"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown state", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/oauth/callback", key, map[string]interface{}{
			"code":  "good-code",
			"state": "never-issued",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("exchange fails", func(t *testing.T) {
		state := issueState(t, env, key)
		w := env.do(t, http.MethodPost, "/api/oauth/callback", key, map[string]interface{}{
			"code":  "bad-code",
			"state": state,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no refresh token", func(t *testing.T) {
		flow.token = &oauth.Token{AccessToken: "ya29.only", ExpiresIn: 3599}
		state := issueState(t, env, key)
		w := env.do(t, http.MethodPost, "/api/oauth/callback", key, map[string]interface{}{
			"code":  "good-code",
			"state": state,
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "refresh token")
	})
}

func TestCallbackParams(t *testing.T) {
	code, state, err := callbackParams(OAuthCallbackRequest{
		CallbackURL: " http://localhost/cb?state=s1&code=c1 ",
		Code:        "ignored",
		State:       "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", code)
	assert.Equal(t, "s1", state)

	code, state, err = callbackParams(OAuthCallbackRequest{Code: " c2 ", State: "s2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", code)
	assert.Equal(t, "s2", state)

	_, _, err = callbackParams(OAuthCallbackRequest{CallbackURL: "http://localhost/cb"})
	assert.Error(t, err)
}
