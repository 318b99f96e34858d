package earthengine_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geowatch/geowatch/internal/earthengine"
	"github.com/geowatch/geowatch/internal/geometry"
	"github.com/geowatch/geowatch/internal/provider/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *earthengine.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return earthengine.NewClient(earthengine.ClientConfig{
		ProjectID:  "test-project",
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Logger:     zerolog.Nop(),
	})
}

func TestClient_Compute(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/projects/test-project/value:compute", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			Expression earthengine.Expression `json:"expression"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		root := body.Expression.Values[body.Expression.Result]
		require.NotNil(t, root)
		assert.Equal(t, "Collection.size", root.FunctionInvocationValue.FunctionName)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result": 42}`))
	})

	result, err := client.Compute(context.Background(), "recent_count", earthengine.LoadImageCollection("C").Size())
	require.NoError(t, err)
	assert.Equal(t, float64(42), result)
}

func TestClient_ComputeDictionary(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"flood_water": 1.5, "area": null}}`))
	})

	result, err := client.Compute(context.Background(), "stats", earthengine.PixelArea().Node())
	require.NoError(t, err)

	dict, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.5, dict["flood_water"])
	assert.Contains(t, dict, "area")
	assert.Nil(t, dict["area"])
}

func TestClient_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Image.select: Pattern 'NDWI' did not match any bands.","status":"INVALID_ARGUMENT"}}`))
	})

	_, err := client.Compute(context.Background(), "bands", earthengine.PixelArea().BandNames())
	require.Error(t, err)

	var apiErr *earthengine.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Code)
	assert.Equal(t, "INVALID_ARGUMENT", apiErr.Status)
	assert.Equal(t, "Image.select: Pattern 'NDWI' did not match any bands.", err.Error())
}

func TestClient_NonJSONError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	})

	_, err := client.Compute(context.Background(), "size", earthengine.LoadImageCollection("C").Size())

	var apiErr *earthengine.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Code)
	assert.Equal(t, "forbidden", apiErr.Message)
}

func TestClient_CredentialRejections(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		rejected bool
	}{
		{"permission denied", http.StatusForbidden,
			`{"error":{"code":403,"message":"Caller does not have required permission to use project","status":"PERMISSION_DENIED"}}`, true},
		{"unauthenticated", http.StatusUnauthorized,
			`{"error":{"code":401,"message":"Request had invalid authentication credentials.","status":"UNAUTHENTICATED"}}`, true},
		{"plain forbidden", http.StatusForbidden, "forbidden", true},
		{"invalid argument", http.StatusBadRequest,
			`{"error":{"code":400,"message":"Image.select: bad band","status":"INVALID_ARGUMENT"}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := client.Compute(context.Background(), "size", earthengine.LoadImageCollection("C").Size())
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errors.Is(err, earthengine.ErrCredentials))
		})
	}
}

func TestClient_TruncatedErrorStaysValidUTF8(t *testing.T) {
	body := "x" + strings.Repeat("é", 300)
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	})

	_, err := client.Compute(context.Background(), "size", earthengine.LoadImageCollection("C").Size())

	var apiErr *earthengine.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, utf8.ValidString(apiErr.Message))
	assert.LessOrEqual(t, len(apiErr.Message), 512)
	assert.Len(t, apiErr.Message, 511)
	assert.True(t, strings.HasPrefix(body, apiErr.Message))
}

func TestClient_ThumbnailURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Expression earthengine.Expression `json:"expression"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		root := body.Expression.Values[body.Expression.Result]
		require.NotNil(t, root)
		assert.Equal(t, "Image.clipToBoundsAndScale", root.FunctionInvocationValue.FunctionName)
		assert.JSONEq(t, `512`, string(root.FunctionInvocationValue.Arguments["maxDimension"].ConstantValue))

		_, _ = w.Write([]byte(`{"name":"projects/test-project/thumbnails/abc123"}`))
	}))
	defer server.Close()
	base := server.URL

	client := earthengine.NewClient(earthengine.ClientConfig{
		ProjectID:  "test-project",
		BaseURL:    base,
		HTTPClient: server.Client(),
	})

	url, err := client.ThumbnailURL(context.Background(), "recent_thumbnail",
		earthengine.PixelArea(),
		earthengine.ThumbnailParams{
			Region:        polygonGeometry(t),
			MaxDimension:  512,
			Visualization: &earthengine.Visualization{Min: -1, Max: 1, Palette: []string{"black", "white", "lightblue"}},
		})
	require.NoError(t, err)
	assert.Equal(t, base+"/v1/projects/test-project/thumbnails/abc123:getPixels", url)
}

func TestClient_ThumbnailWithoutName(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := client.ThumbnailURL(context.Background(), "t", earthengine.PixelArea(), earthengine.ThumbnailParams{})
	assert.Error(t, err)
}

func polygonGeometry(t *testing.T) earthengine.Geometry {
	t.Helper()
	g, err := earthengine.GeometryFromRegion(geometry.Region{
		Kind:     geometry.TypePolygon,
		Geometry: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
	})
	require.NoError(t, err)
	return g
}

func writeKeyFile(t *testing.T, tokenURL string) string {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	creds, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "test-project",
		"private_key_id": "key-1",
		"private_key":    string(pemKey),
		"client_email":   "geowatch@test-project.iam.gserviceaccount.com",
		"token_uri":      tokenURL,
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(path, creds, 0o600))
	return path
}

func TestDial_AuthenticatesRequests(t *testing.T) {
	var tokenRequests atomic.Int32
	var gotAuth string

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/projects/test-project/value:compute", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"result": 3}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	registry := resilience.NewRegistry()
	client, err := earthengine.Dial(context.Background(), earthengine.Config{
		ProjectID:       "test-project",
		BaseURL:         server.URL,
		CredentialsPath: writeKeyFile(t, server.URL+"/token"),
		Registry:        registry,
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenRequests.Load(), "Dial verifies the key up front")

	result, err := client.Compute(context.Background(), "size", earthengine.LoadImageCollection("C").Size())
	require.NoError(t, err)
	assert.Equal(t, float64(3), result)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, int32(1), tokenRequests.Load(), "token is reused")

	health := registry.GetHealth(earthengine.ProviderName)
	require.NotNil(t, health)
	assert.NotNil(t, health.LastSuccessAt)
}

func TestDial_CredentialErrors(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	garbage := filepath.Join(t.TempDir(), "garbage.json")
	require.NoError(t, os.WriteFile(garbage, []byte("not json"), 0o600))

	tests := []struct {
		name string
		path string
	}{
		{name: "empty path", path: ""},
		{name: "missing file", path: filepath.Join(t.TempDir(), "nope.json")},
		{name: "not a key file", path: garbage},
		{name: "rejected key", path: writeKeyFile(t, tokenServer.URL)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := earthengine.Dial(context.Background(), earthengine.Config{
				CredentialsPath: tt.path,
				Logger:          zerolog.Nop(),
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, earthengine.ErrCredentials)
		})
	}
}

func TestDial_SharedTransportTripsCircuit(t *testing.T) {
	var computeCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/projects/test-project/value:compute", func(w http.ResponseWriter, r *http.Request) {
		computeCalls.Add(1)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	registry := resilience.NewRegistry()
	shared := earthengine.NewHTTPClient(time.Second, 0, registry)
	key := writeKeyFile(t, server.URL+"/token")

	compute := func() error {
		client, err := earthengine.Dial(context.Background(), earthengine.Config{
			ProjectID:       "test-project",
			BaseURL:         server.URL,
			CredentialsPath: key,
			HTTPClient:      shared,
			Logger:          zerolog.Nop(),
		})
		require.NoError(t, err)
		_, err = client.Compute(context.Background(), "size", earthengine.LoadImageCollection("C").Size())
		return err
	}

	for i := 0; i < 5; i++ {
		require.Error(t, compute())
	}
	assert.Equal(t, gobreaker.StateOpen, registry.GetHealth(earthengine.ProviderName).CircuitState)

	err := compute()
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(5), computeCalls.Load())
}
