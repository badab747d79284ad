package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menuboard/internal/autherr"
	"menuboard/internal/logger"
)

const testLoginFlow = `{
	"id": "flow-1",
	"type": "api",
	"expires_at": "2030-01-01T00:00:00Z",
	"issued_at": "2024-01-01T00:00:00Z",
	"request_url": "http://kratos/self-service/login/api",
	"state": "choose_method",
	"ui": {"action": "http://kratos/self-service/login?flow=flow-1", "method": "POST", "nodes": []}
}`

func testSessionJSON(identityID uuid.UUID, verified bool) string {
	return fmt.Sprintf(`{
		"id": "session-1",
		"active": true,
		"expires_at": "2030-01-01T00:00:00Z",
		"identity": {
			"id": %q,
			"schema_id": "default",
			"schema_url": "http://kratos/schemas/default",
			"traits": {"email": "joe@example.com"},
			"verifiable_addresses": [
				{"value": "joe@example.com", "verified": %t, "via": "email", "status": "completed"}
			]
		}
	}`, identityID.String(), verified)
}

func newTestKratos(t *testing.T, handler http.Handler) *Kratos {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewKratos(srv.URL, 5*time.Second, logger.Discard())
}

func TestKratos_Login(t *testing.T) {
	identityID := uuid.New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /self-service/login/api", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, testLoginFlow)
	})
	mux.HandleFunc("POST /self-service/login", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "flow-1", r.URL.Query().Get("flow"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"session": %s, "session_token": "ory_st_abc"}`, testSessionJSON(identityID, true))
	})

	k := newTestKratos(t, mux)

	session, err := k.Login(context.Background(), "joe@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "ory_st_abc", session.Token)
	assert.Equal(t, identityID, session.Identity.ID)
	assert.Equal(t, "joe@example.com", session.Identity.Email)
	assert.True(t, session.Identity.Confirmed)
}

const testRegistrationFlow = `{
	"id": "flow-2",
	"type": "api",
	"expires_at": "2030-01-01T00:00:00Z",
	"issued_at": "2024-01-01T00:00:00Z",
	"request_url": "http://kratos/self-service/registration/api",
	"state": "choose_method",
	"ui": {"action": "http://kratos/self-service/registration?flow=flow-2", "method": "POST", "nodes": []}
}`

func TestKratos_RegisterCredentials(t *testing.T) {
	tests := []struct {
		name        string
		credentials string
		want        []string
	}{
		{name: "omitted", credentials: "", want: []string{"password"}},
		{name: "linked", credentials: `, "credentials": {"password": {"type": "password", "identifiers": ["joe@example.com"]}}`, want: []string{"password"}},
		{name: "nothing linked", credentials: `, "credentials": {}`, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identityID := uuid.New()

			mux := http.NewServeMux()
			mux.HandleFunc("GET /self-service/registration/api", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprint(w, testRegistrationFlow)
			})
			mux.HandleFunc("POST /self-service/registration", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "flow-2", r.URL.Query().Get("flow"))
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, `{"identity": {
					"id": %q,
					"schema_id": "default",
					"schema_url": "http://kratos/schemas/default",
					"traits": {"email": "joe@example.com"}%s
				}}`, identityID.String(), tt.credentials)
			})

			k := newTestKratos(t, mux)

			reg, err := k.Register(context.Background(), SignUpParams{Email: "joe@example.com", Password: "secret1"})
			require.NoError(t, err)
			assert.Equal(t, identityID, reg.Identity.ID)
			assert.Equal(t, tt.want, reg.Identity.Credentials)
			assert.Nil(t, reg.Session)
		})
	}
}

func TestKratos_LoginInvalidCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /self-service/login/api", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, testLoginFlow)
	})
	mux.HandleFunc("POST /self-service/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"id":"flow-1","ui":{"action":"x","method":"POST","nodes":[],
			"messages":[{"id":4000006,"text":"The provided credentials are invalid, check for spelling mistakes.","type":"error"}]}}`)
	})

	k := newTestKratos(t, mux)

	_, err := k.Login(context.Background(), "joe@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &autherr.Error{Kind: autherr.KindProvider, Code: autherr.CodeInvalidCredentials}))
}

func TestKratos_Whoami(t *testing.T) {
	identityID := uuid.New()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sessions/whoami", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Session-Token") != "ory_st_abc" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"code":401,"status":"Unauthorized","id":"session_inactive"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, testSessionJSON(identityID, false))
	})

	k := newTestKratos(t, mux)

	session, err := k.Whoami(context.Background(), "ory_st_abc")
	require.NoError(t, err)
	assert.Equal(t, identityID, session.Identity.ID)
	assert.False(t, session.Identity.Confirmed)

	_, err = k.Whoami(context.Background(), "expired")
	assert.True(t, errors.Is(err, autherr.ErrNotAuthenticated))
}

func TestKratos_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	k := NewKratos(url, time.Second, logger.Discard())

	_, err := k.Whoami(context.Background(), "token")
	assert.True(t, errors.Is(err, &autherr.Error{Kind: autherr.KindProvider, Code: autherr.CodeUnavailable}))
}
