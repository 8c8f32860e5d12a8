package dispatch_test

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sonyctl/internal/bluray"
	"sonyctl/internal/bravia"
	"sonyctl/internal/config"
	"sonyctl/internal/device"
	"sonyctl/internal/dispatch"
	"sonyctl/internal/flood"
)

// countingTransport counts every request that reaches the network
type countingTransport struct {
	calls atomic.Int32
	next  http.RoundTripper
}

func newCountingTransport() *countingTransport {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &countingTransport{next: base}
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return c.next.RoundTrip(req)
}

type rpcCall struct {
	Path   string
	Method string
	PSK    string
}

type mockDisplay struct {
	server *httptest.Server
	mu     sync.Mutex
	calls  []rpcCall
	status int
}

func newMockDisplay(t *testing.T, status int) *mockDisplay {
	t.Helper()
	m := &mockDisplay{status: status}
	m.server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload bravia.BraviaPayload
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &payload)

		m.mu.Lock()
		m.calls = append(m.calls, rpcCall{Path: r.URL.Path, Method: string(payload.Method), PSK: r.Header.Get("X-Auth-PSK")})
		m.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.status)
		if m.status != http.StatusOK {
			w.Write([]byte(`{"error":[403,"Forbidden"]}`))
			return
		}
		w.Write([]byte(`{"result":[{"status":"active"}],"id":50}`))
	}))
	t.Cleanup(m.server.Close)
	return m
}

func (m *mockDisplay) config(t *testing.T, id, psk string) config.DisplayConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(m.server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return config.DisplayConfig{ID: id, Model: "Sony Bravia", Host: host, Port: port, PSK: psk, RequestTimeout: "2s"}
}

func (m *mockDisplay) recorded() []rpcCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]rpcCall(nil), m.calls...)
}

// newMockPlayer answers one disc player session per accepted connection
func newMockPlayer(t *testing.T, reply string) (config.DiscPlayerConfig, <-chan string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	commands := make(chan string, 4)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				conn.Write([]byte("{\"type\":\"notify\",\"feature\":\"power\",\"value\":\"on\"}\n"))
				conn.Write([]byte("{\"type\":\"notify\",\"feature\":\"audiomute\",\"value\":\"off\"}\n"))
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				commands <- line
				conn.Write([]byte(reply))
			}(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return config.DiscPlayerConfig{
		ID:          "bluray",
		Model:       "Blu-ray player",
		Host:        host,
		Port:        port,
		ReadTimeout: "1s",
		CallTimeout: "5s",
		ReadPolicy:  "best_effort",
	}, commands
}

func testConfig(displays []config.DisplayConfig, disc config.DiscPlayerConfig) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Displays = displays
	cfg.DiscPlayer = disc
	return cfg
}

func newDispatcher(cfg *config.Config, rt *countingTransport, opts ...dispatch.Option) *dispatch.Dispatcher {
	opts = append([]dispatch.Option{
		dispatch.WithDisplayOptions(bravia.WithTransport(rt)),
		dispatch.WithGuard(flood.NewGuard(flood.DefaultCooldown, flood.Sliding)),
	}, opts...)
	return dispatch.New(cfg, zerolog.Nop(), opts...)
}

func TestExecuteDisplayFanOut(t *testing.T) {
	first := newMockDisplay(t, http.StatusOK)
	second := newMockDisplay(t, http.StatusOK)
	rt := newCountingTransport()

	cfg := testConfig([]config.DisplayConfig{
		first.config(t, "display1", "Sony1234!"),
		second.config(t, "display2", "sony123456789012"),
	}, config.DiscPlayerConfig{Host: "127.0.0.1", Port: 1})

	d := newDispatcher(cfg, rt)

	results, err := d.Execute(context.Background(), device.KindDisplay, "SetPowerOn")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "display1", results[0].Device)
	assert.Equal(t, "display2", results[1].Device)
	assert.True(t, results[0].OK())
	assert.True(t, results[1].OK())

	assert.Equal(t, []rpcCall{{Path: "/sony/system", Method: "setPowerStatus", PSK: "Sony1234!"}}, first.recorded())
	assert.Equal(t, []rpcCall{{Path: "/sony/system", Method: "setPowerStatus", PSK: "sony123456789012"}}, second.recorded())
	assert.EqualValues(t, 2, rt.calls.Load())
}

func TestExecuteInvalidEndpointMakesNoCalls(t *testing.T) {
	good := newMockDisplay(t, http.StatusOK)
	rt := newCountingTransport()

	cfg := testConfig([]config.DisplayConfig{
		good.config(t, "display1", "Sony1234!"),
		{ID: "display2", Host: "not-an-ip", Port: 443, PSK: "x", RequestTimeout: "2s"},
	}, config.DiscPlayerConfig{Host: "127.0.0.1", Port: 1})

	d := newDispatcher(cfg, rt)

	results, err := d.Execute(context.Background(), device.KindDisplay, "SetPowerOn")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dispatch.ErrCouldNotConnect))
	assert.Nil(t, results)
	assert.EqualValues(t, 0, rt.calls.Load())
	assert.Empty(t, good.recorded())
}

func TestExecutePartialFailure(t *testing.T) {
	broken := newMockDisplay(t, http.StatusForbidden)
	healthy := newMockDisplay(t, http.StatusOK)
	rt := newCountingTransport()

	cfg := testConfig([]config.DisplayConfig{
		broken.config(t, "display1", "wrong"),
		healthy.config(t, "display2", "sony123456789012"),
	}, config.DiscPlayerConfig{Host: "127.0.0.1", Port: 1})

	d := newDispatcher(cfg, rt)

	results, err := d.Execute(context.Background(), device.KindDisplay, "GetPowerStatus")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].OK())
	assert.Contains(t, results[0].Error, "403")
	assert.True(t, results[1].OK())
	assert.Len(t, healthy.recorded(), 1)
}

func TestExecuteFlooding(t *testing.T) {
	display := newMockDisplay(t, http.StatusOK)
	rt := newCountingTransport()

	cfg := testConfig([]config.DisplayConfig{display.config(t, "display1", "psk")},
		config.DiscPlayerConfig{Host: "127.0.0.1", Port: 1})

	guard := flood.NewGuard(5*time.Second, flood.Sliding)
	now := time.Unix(1000, 0)
	guard.SetNowFunc(func() time.Time { return now })

	d := newDispatcher(cfg, rt, dispatch.WithGuard(guard))

	_, err := d.Execute(context.Background(), device.KindDisplay, "GetBrightness")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = d.Execute(context.Background(), device.KindDisplay, "GetBrightness")
	assert.ErrorIs(t, err, dispatch.ErrFlooding)
	assert.Equal(t, "flooding", err.Error())

	// a different action is never suppressed
	_, err = d.Execute(context.Background(), device.KindDisplay, "GetPowerStatus")
	require.NoError(t, err)

	assert.EqualValues(t, 2, rt.calls.Load())
}

func TestExecuteFloodingKeysDiscActionsSeparately(t *testing.T) {
	display := newMockDisplay(t, http.StatusOK)
	disc, commands := newMockPlayer(t, "{\"type\":\"set\",\"feature\":\"power\",\"value\":\"on\"}\n")
	rt := newCountingTransport()

	cfg := testConfig([]config.DisplayConfig{display.config(t, "display1", "psk")}, disc)
	d := newDispatcher(cfg, rt)

	_, err := d.Execute(context.Background(), device.KindDisplay, "SetPowerOn")
	require.NoError(t, err)

	results, err := d.Execute(context.Background(), device.KindDiscPlayer, "SetPowerOn")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK())
	assert.Equal(t, "{\"type\":\"set\",\"feature\":\"power\",\"value\":\"on\"}\n", <-commands)

	assert.Equal(t, "BluRay_SetPowerOn", d.Guard().Snapshot().LastAction)
}

func TestExecuteDiscPlayer(t *testing.T) {
	reply := "{\"type\":\"set\",\"feature\":\"gui.play\",\"value\":\"ok\"}"
	disc, commands := newMockPlayer(t, reply+"\n")
	rt := newCountingTransport()

	d := newDispatcher(testConfig(nil, disc), rt)

	results, err := d.Execute(context.Background(), device.KindDiscPlayer, "BluRay_Play")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "bluray", results[0].Device)
	assert.Equal(t, reply, results[0].Data)
	assert.Equal(t, "{\"type\":\"set\",\"feature\":\"gui.play\",\"value\":\"pulse\"}\n", <-commands)
	assert.EqualValues(t, 0, rt.calls.Load())
}

func TestExecuteDiscPlayerInvalidHost(t *testing.T) {
	rt := newCountingTransport()
	disc := config.DiscPlayerConfig{ID: "bluray", Host: "", Port: bluray.DefaultPort, ReadTimeout: "1s", CallTimeout: "2s"}

	d := newDispatcher(testConfig(nil, disc), rt)

	_, err := d.Execute(context.Background(), device.KindDiscPlayer, "Eject")
	assert.ErrorIs(t, err, dispatch.ErrCouldNotConnect)
}

func TestExecuteDiscPlayerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	disc := config.DiscPlayerConfig{ID: "bluray", Host: "127.0.0.1", Port: port, ReadTimeout: "1s", CallTimeout: "2s"}
	d := newDispatcher(testConfig(nil, disc), newCountingTransport())

	results, err := d.Execute(context.Background(), device.KindDiscPlayer, "Pause")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].OK())
	assert.Nil(t, results[0].Data)
}

func TestExecuteUnknownAction(t *testing.T) {
	rt := newCountingTransport()
	guard := flood.NewGuard(5*time.Second, flood.Sliding)
	d := newDispatcher(testConfig(nil, config.DiscPlayerConfig{}), rt, dispatch.WithGuard(guard))

	_, err := d.Execute(context.Background(), device.KindDisplay, "SelfDestruct")
	assert.ErrorIs(t, err, dispatch.ErrUnknownAction)

	_, err = d.Execute(context.Background(), device.KindDisplay, "Play")
	assert.ErrorIs(t, err, dispatch.ErrUnknownAction)

	_, err = d.Execute(context.Background(), device.KindDiscPlayer, "GetBrightness")
	assert.ErrorIs(t, err, dispatch.ErrUnknownAction)

	// rejected names never reach the guard
	assert.Empty(t, guard.Snapshot().LastAction)
}

func TestExecuteConcurrentSameAction(t *testing.T) {
	display := newMockDisplay(t, http.StatusOK)
	rt := newCountingTransport()
	d := newDispatcher(testConfig([]config.DisplayConfig{display.config(t, "display1", "psk")},
		config.DiscPlayerConfig{}), rt)

	var wg sync.WaitGroup
	var admitted, flooded atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Execute(context.Background(), device.KindDisplay, "SetBrightness25")
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, dispatch.ErrFlooding):
				flooded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, admitted.Load())
	assert.EqualValues(t, 9, flooded.Load())
	assert.EqualValues(t, 1, rt.calls.Load())
}

func TestObserverReceivesOutcomes(t *testing.T) {
	display := newMockDisplay(t, http.StatusOK)
	rt := newCountingTransport()

	var mu sync.Mutex
	var outcomes []dispatch.Outcome
	d := newDispatcher(testConfig([]config.DisplayConfig{display.config(t, "display1", "psk")},
		config.DiscPlayerConfig{}), rt, dispatch.WithObserver(func(o dispatch.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}))

	_, err := d.Execute(context.Background(), device.KindDisplay, "GetPowerStatus")
	require.NoError(t, err)
	_, err = d.Execute(context.Background(), device.KindDisplay, "GetPowerStatus")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 2)
	assert.NotEmpty(t, outcomes[0].ID)
	assert.Equal(t, dispatch.GetPowerStatus, outcomes[0].Action)
	assert.Empty(t, outcomes[0].Error)
	assert.Len(t, outcomes[0].Results, 1)
	assert.Equal(t, "Flooding", outcomes[1].Error)
	assert.NotEqual(t, outcomes[0].ID, outcomes[1].ID)
}

func TestReload(t *testing.T) {
	first := newMockDisplay(t, http.StatusOK)
	second := newMockDisplay(t, http.StatusOK)
	rt := newCountingTransport()

	d := newDispatcher(testConfig([]config.DisplayConfig{first.config(t, "display1", "psk")},
		config.DiscPlayerConfig{}), rt)

	_, err := d.Execute(context.Background(), device.KindDisplay, "GetBrightness")
	require.NoError(t, err)

	d.Reload(testConfig([]config.DisplayConfig{second.config(t, "display2", "psk")}, config.DiscPlayerConfig{}))

	results, err := d.Execute(context.Background(), device.KindDisplay, "SetBrightness10")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "display2", results[0].Device)
	assert.Len(t, first.recorded(), 1)
	assert.Len(t, second.recorded(), 1)
}

func TestReloadAppliesFloodSettings(t *testing.T) {
	cfg := testConfig(nil, config.DiscPlayerConfig{})
	d := dispatch.New(cfg, zerolog.Nop())
	require.Equal(t, flood.DefaultCooldown, d.Guard().Cooldown())
	require.Equal(t, flood.Sliding, d.Guard().Window())

	assert.False(t, d.Guard().Check("SetPowerOn"))

	next := testConfig(nil, config.DiscPlayerConfig{})
	next.Flood.Cooldown = "1s"
	next.Flood.Window = "fixed"
	d.Reload(next)

	assert.Equal(t, time.Second, d.Guard().Cooldown())
	assert.Equal(t, flood.Fixed, d.Guard().Window())
	assert.Equal(t, "SetPowerOn", d.Guard().Snapshot().LastAction, "flood state survives a reload")
}

func TestReloadKeepsInjectedGuard(t *testing.T) {
	guard := flood.NewGuard(3*time.Second, flood.Sliding)
	d := dispatch.New(testConfig(nil, config.DiscPlayerConfig{}), zerolog.Nop(), dispatch.WithGuard(guard))

	next := testConfig(nil, config.DiscPlayerConfig{})
	next.Flood.Cooldown = "1s"
	next.Flood.Window = "fixed"
	d.Reload(next)

	assert.Same(t, guard, d.Guard())
	assert.Equal(t, 3*time.Second, guard.Cooldown())
	assert.Equal(t, flood.Sliding, guard.Window())
}

func TestClientMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
		ok   bool
	}{
		{dispatch.ErrFlooding, "Flooding", true},
		{fmt.Errorf("%w: display1: bad host", dispatch.ErrCouldNotConnect), "Could not connect to host", true},
		{dispatch.ErrUnknownAction, "", false},
		{nil, "", false},
	}

	for _, tt := range tests {
		msg, ok := dispatch.ClientMessage(tt.err)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, msg)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		kind     device.Kind
		name     string
		action   dispatch.Action
		floodKey string
		wantErr  bool
	}{
		{device.KindDisplay, "SetBrightness49", dispatch.SetBrightness49, "SetBrightness49", false},
		{device.KindDisplay, "SetPowerOff", dispatch.SetPowerOff, "SetPowerOff", false},
		{device.KindDiscPlayer, "Eject", dispatch.Eject, "BluRay_Eject", false},
		{device.KindDiscPlayer, "BluRay_Stop", dispatch.Stop, "BluRay_Stop", false},
		{device.KindDiscPlayer, "SetPowerOff", dispatch.SetPowerOff, "BluRay_SetPowerOff", false},
		{device.KindDisplay, "BluRay_Play", "", "", true},
		{device.KindDisplay, "setpoweron", "", "", true},
		{device.Kind("toaster"), "Play", "", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.name, func(t *testing.T) {
			action, key, err := dispatch.Resolve(tt.kind, tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, dispatch.ErrUnknownAction)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.floodKey, key)
		})
	}
}

func TestActionsAndDevices(t *testing.T) {
	actions := dispatch.Actions()
	assert.Len(t, actions, 13)
	assert.Equal(t, device.KindDisplay, actions[0].Kind)
	assert.Equal(t, device.KindDiscPlayer, actions[len(actions)-1].Kind)

	d := dispatch.New(config.NewDefaultConfig(), zerolog.Nop())
	devices := d.Devices()
	require.Len(t, devices, 3)
	assert.Equal(t, "display1", devices[0].ID)
	assert.Equal(t, "192.168.111.96:443", devices[0].Address)
	assert.Contains(t, devices[0].Capabilities, "SetBrightness25")
	assert.Equal(t, device.KindDiscPlayer, devices[2].Kind)
	assert.Equal(t, "192.168.111.10:3336", devices[2].Address)
	assert.Contains(t, devices[2].Capabilities, "Eject")
}
