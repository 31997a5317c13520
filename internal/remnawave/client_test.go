package remnawave

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateUser(t *testing.T) {
	var got CreateUserRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/users", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"response":{"uuid":"a1","username":"user_42","subscriptionUrl":"https://sub/a1"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", time.Second)
	user, err := c.CreateUser(t.Context(), CreateUserRequest{
		Username:             "user_42",
		Status:               StatusActive,
		TrafficLimitStrategy: StrategyNoReset,
		HwidDeviceLimit:      5,
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", user.UUID)
	assert.Equal(t, "https://sub/a1", user.SubscriptionURL)
	assert.Equal(t, "user_42", got.Username)
	assert.Equal(t, 5, got.HwidDeviceLimit)
}

func TestErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/users/by-username/ghost" {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"response":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "token", time.Second)

	_, err := c.GetUserByUsername(t.Context(), "ghost")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	_, err = c.CreateUser(t.Context(), CreateUserRequest{Username: "user_1"})
	require.Error(t, err, "a response without uuid is not a created account")
	assert.False(t, IsNotFound(err))
}
