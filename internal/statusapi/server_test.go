package statusapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"adbdash/internal/adb"
	"adbdash/internal/backend"
	"adbdash/internal/connect"
	"adbdash/internal/telemetry"

	"github.com/matryer/is"
	"github.com/rs/zerolog"
)

type stubBackend struct{ serial string }

func (b stubBackend) Serial() string     { return b.serial }
func (b stubBackend) Name() string       { return "name-" + b.serial }
func (b stubBackend) Kind() backend.Kind { return backend.KindTCP }
func (b stubBackend) Connect(context.Context, adb.Options) (backend.Session, error) {
	return nil, nil
}

type stubState connect.State

func (s stubState) State() connect.State { return connect.State(s) }

func newTestServer(st connect.State, snap *telemetry.Snapshot) *httptest.Server {
	s := New(stubState(st), snap, 0, zerolog.Nop())
	return httptest.NewServer(s.Handler())
}

func testRequest(is *is.I, ts *httptest.Server, path string) (*http.Response, string) {
	resp, err := http.Get(ts.URL + path)
	is.NoErr(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	is.NoErr(err)
	return resp, string(body)
}

func TestHealthReturns204(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(connect.State{}, telemetry.NewSnapshot())
	defer ts.Close()

	resp, _ := testRequest(is, ts, "/health")
	is.Equal(resp.StatusCode, http.StatusNoContent) // health endpoint status code not ok
}

func TestStateEndpoint(t *testing.T) {
	is := is.New(t)
	st := connect.State{
		Backends:  []backend.Backend{stubBackend{"a"}, stubBackend{"b"}},
		Selected:  "b",
		Connected: "b",
	}
	ts := newTestServer(st, telemetry.NewSnapshot())
	defer ts.Close()

	resp, body := testRequest(is, ts, "/api/state")
	is.Equal(resp.StatusCode, http.StatusOK)
	is.Equal(resp.Header.Get("Content-Type"), "application/json")

	var got stateDTO
	is.NoErr(json.Unmarshal([]byte(body), &got))
	is.Equal(len(got.Backends), 2)
	is.Equal(got.Backends[1], backendDTO{Serial: "b", Name: "name-b", Kind: "tcp"})
	is.Equal(got.Selected, "b")
	is.Equal(got.Connected, "b")
	is.True(!got.Connecting)
}

func TestTelemetryEndpoint(t *testing.T) {
	is := is.New(t)
	snap := telemetry.NewSnapshot()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	snap.Update(telemetry.Sample{Metric: telemetry.MetricCPU, Value: 12.5, Time: at})
	ts := newTestServer(connect.State{}, snap)
	defer ts.Close()

	_, body := testRequest(is, ts, "/api/telemetry")
	var got telemetryDTO
	is.NoErr(json.Unmarshal([]byte(body), &got))
	is.Equal(len(got.Samples), 1)
	is.Equal(got.Samples[0].Metric, telemetry.MetricCPU)
	is.Equal(got.Samples[0].Value, 12.5)
	is.True(got.Updated != nil && got.Updated.Equal(at))
}

func TestSysInfoEndpointEmpty(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(connect.State{}, telemetry.NewSnapshot())
	defer ts.Close()

	_, body := testRequest(is, ts, "/api/sysinfo")
	is.Equal(body, "[]\n") // empty list, not null
}

func TestSysInfoAndPackages(t *testing.T) {
	is := is.New(t)
	snap := telemetry.NewSnapshot()
	snap.SetRows([]telemetry.Row{{Key: "boottime", Name: "Uptime", Value: "01:00:00"}})
	snap.SetPackages([]telemetry.Package{{Name: "com.example", Version: "1.0", LastUpdated: "2024-01-01"}})
	ts := newTestServer(connect.State{}, snap)
	defer ts.Close()

	_, body := testRequest(is, ts, "/api/sysinfo")
	var rows []telemetry.Row
	is.NoErr(json.Unmarshal([]byte(body), &rows))
	is.Equal(rows, []telemetry.Row{{Key: "boottime", Name: "Uptime", Value: "01:00:00"}})

	_, body = testRequest(is, ts, "/api/packages")
	var pkgs []telemetry.Package
	is.NoErr(json.Unmarshal([]byte(body), &pkgs))
	is.Equal(len(pkgs), 1)
	is.Equal(pkgs[0].Name, "com.example")
}

func TestUnknownRoute(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(connect.State{}, telemetry.NewSnapshot())
	defer ts.Close()

	resp, _ := testRequest(is, ts, "/api/nope")
	is.Equal(resp.StatusCode, http.StatusNotFound)
}

func TestPortResolution(t *testing.T) {
	is := is.New(t)
	t.Setenv(PortEnv, "")
	is.Equal(Port(0), DefaultPort)
	is.Equal(Port(8080), 8080)

	t.Setenv(PortEnv, "12345")
	is.Equal(Port(0), 12345)
	is.Equal(Port(8080), 8080) // explicit port wins

	t.Setenv(PortEnv, "not-a-port")
	is.Equal(Port(0), DefaultPort)
}

func TestStartStop(t *testing.T) {
	is := is.New(t)
	t.Setenv(PortEnv, "0")
	s := New(stubState(connect.State{}), telemetry.NewSnapshot(), 0, zerolog.Nop())
	is.NoErr(s.Start())
	is.True(s.Addr() != nil)

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	is.NoErr(err)
	resp.Body.Close()
	is.Equal(resp.StatusCode, http.StatusNoContent)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	is.NoErr(s.Stop(ctx))
}
