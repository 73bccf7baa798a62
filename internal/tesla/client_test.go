package tesla

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestClient(apiURL, authURL string, creds Credentials) *Client {
	return NewClient(creds, testLogger(),
		WithBaseURL(apiURL),
		WithAuthURL(authURL),
		WithRefreshBackoff(time.Millisecond))
}

func vehiclesPayload(state string) string {
	return fmt.Sprintf(`{"response":[{"id":42,"vehicle_id":1001,"id_s":"42","display_name":"Kara","state":%q}]}`, state)
}

func TestGetVehicles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1/vehicles/", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, vehiclesPayload(StateOnline))
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL, Credentials{AccessToken: "tok"})
	vehicles, err := client.GetVehicles(context.Background())

	require.NoError(t, err)
	require.Len(t, vehicles, 1)
	assert.Equal(t, int64(42), vehicles[0].ID)
	assert.Equal(t, "Kara", vehicles[0].DisplayName)
	assert.Equal(t, StateOnline, vehicles[0].State)
}

func TestGetVehicleData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1/vehicles/42/vehicle_data", r.URL.Path)
		fmt.Fprint(w, `{"response":{
			"id":42,"state":"online",
			"charge_state":{"charging_state":"Charging","battery_level":64,"battery_range":201.5,"charge_limit_soc":80},
			"drive_state":{"latitude":37.4419,"longitude":-122.143}}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL, Credentials{AccessToken: "tok"})
	data, err := client.GetVehicleData(context.Background(), "42")

	require.NoError(t, err)
	assert.Equal(t, ChargingStateCharging, data.ChargeState.ChargingState)
	assert.Equal(t, 64, data.ChargeState.BatteryLevel)
	assert.Equal(t, 80, data.ChargeState.ChargeLimitSoc)
	assert.Equal(t, 37.4419, data.DriveState.Latitude)
}

func TestCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/1/vehicles/42/command/charge_stop", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var params map[string]int
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.Equal(t, 50, params["percent"])

		fmt.Fprint(w, `{"response":{"result":true}}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL, Credentials{AccessToken: "tok"})
	resp, err := client.Command(context.Background(), "charge_stop", "42", map[string]int{"percent": 50})

	require.NoError(t, err)
	assert.JSONEq(t, `{"result":true}`, string(resp))
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   ErrorKind
	}{
		{404, ErrNoVehicle},
		{405, ErrInService},
		{408, ErrUnavailable},
		{500, ErrServer},
		{502, ErrNetwork},
		{504, ErrTimeout},
		{418, ErrUnknown},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))

		client := newTestClient(server.URL, server.URL, Credentials{AccessToken: "tok"})
		_, err := client.GetVehicles(context.Background())
		server.Close()

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr, "status %d", tc.status)
		assert.Equal(t, tc.kind, apiErr.Kind, "status %d", tc.status)
	}
}

func TestUnauthorizedWithoutRefreshTokenSurfacesImmediately(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL, Credentials{AccessToken: "tok"})
	_, err := client.GetVehicles(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrUnauthorized, apiErr.Kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUnauthorizedTriggersSingleRefreshAndRetry(t *testing.T) {
	var apiCalls, authCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/vehicles/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, vehiclesPayload(StateOnline))
	})
	mux.HandleFunc("/oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&authCalls, 1)

		var req oauthRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refresh_token", req.GrantType)
		assert.Equal(t, "ownerapi", req.ClientID)
		assert.Equal(t, "refresh-1", req.RefreshToken)

		fmt.Fprint(w, `{"access_token":"fresh","refresh_token":"refresh-2"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(Credentials{AccessToken: "stale", RefreshToken: "refresh-1"}, testLogger(),
		WithBaseURL(server.URL),
		WithAuthURL(server.URL+"/oauth2/v3/token"),
		WithRefreshBackoff(time.Millisecond))

	var notified Credentials
	client.OnTokenRefresh(func(c Credentials) { notified = c })

	vehicles, err := client.GetVehicles(context.Background())

	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls), "one original call plus one retry")
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls), "exactly one refresh")
	assert.Equal(t, Credentials{AccessToken: "fresh", RefreshToken: "refresh-2"}, notified)
	assert.Equal(t, Credentials{AccessToken: "fresh", RefreshToken: "refresh-2"}, client.Credentials())
}

func TestSecondUnauthorizedAfterRefreshSurfaces(t *testing.T) {
	var apiCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/vehicles/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"access_token":"fresh","refresh_token":"refresh-2"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(Credentials{AccessToken: "stale", RefreshToken: "refresh-1"}, testLogger(),
		WithBaseURL(server.URL),
		WithAuthURL(server.URL+"/oauth2/v3/token"),
		WithRefreshBackoff(time.Millisecond))

	_, err := client.GetVehicles(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrUnauthorized, apiErr.Kind)
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls), "no infinite retry after a successful refresh")
}

func TestConcurrentUnauthorizedSingleRefresh(t *testing.T) {
	var authCalls int32
	var barrier sync.WaitGroup
	barrier.Add(2)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/1/vehicles/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer stale" {
			// Hold both stale calls until they have all arrived so both
			// observe the 401 before either can refresh.
			barrier.Done()
			barrier.Wait()
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, vehiclesPayload(StateOnline))
	})
	mux.HandleFunc("/oauth2/v3/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&authCalls, 1)
		fmt.Fprint(w, `{"access_token":"fresh","refresh_token":"refresh-2"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(Credentials{AccessToken: "stale", RefreshToken: "refresh-1"}, testLogger(),
		WithBaseURL(server.URL),
		WithAuthURL(server.URL+"/oauth2/v3/token"),
		WithRefreshBackoff(time.Millisecond))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.GetVehicles(context.Background())
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls), "only one refresh for two concurrent 401s")
}

func TestRefreshAccessTokenRetriesThreeTimes(t *testing.T) {
	var authCalls int32
	var stamps []time.Time

	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&authCalls, 1)
		stamps = append(stamps, time.Now())
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer authServer.Close()

	backoff := 30 * time.Millisecond
	client := NewClient(Credentials{AccessToken: "tok", RefreshToken: "refresh-1"}, testLogger(),
		WithAuthURL(authServer.URL),
		WithRefreshBackoff(backoff))

	_, err := client.RefreshAccessToken()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to refresh token")
	assert.Equal(t, int32(3), atomic.LoadInt32(&authCalls))

	// Two inter-attempt delays of roughly the configured backoff.
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), backoff)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), backoff)

	// Stored credentials must be untouched after a failed refresh.
	assert.Equal(t, Credentials{AccessToken: "tok", RefreshToken: "refresh-1"}, client.Credentials())
}

func TestRefreshAccessTokenWithoutRefreshToken(t *testing.T) {
	client := NewClient(Credentials{AccessToken: "tok"}, testLogger())

	_, err := client.RefreshAccessToken()

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrUnauthorized, apiErr.Kind)
}

func TestMalformedBodyMapsToUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"response": [`)
	}))
	defer server.Close()

	client := newTestClient(server.URL, server.URL, Credentials{AccessToken: "tok"})
	_, err := client.GetVehicles(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrUnknown, apiErr.Kind)
}

func TestConnectionFailureMapsToNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := newTestClient(server.URL, server.URL, Credentials{AccessToken: "tok"})
	_, err := client.GetVehicles(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrNetwork, apiErr.Kind)
}

func TestSlowResponseMapsToTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(Credentials{AccessToken: "tok"}, testLogger(),
		WithBaseURL(server.URL),
		WithTimeout(20*time.Millisecond))

	_, err := client.GetVehicles(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrTimeout, apiErr.Kind)
}

func TestCallerDispatchViaErrorsAs(t *testing.T) {
	wrapped := fmt.Errorf("cycle aborted: %w", newAPIError(ErrServer, errors.New("boom")))

	var apiErr *APIError
	require.ErrorAs(t, wrapped, &apiErr)
	assert.Equal(t, ErrServer, apiErr.Kind)
}
