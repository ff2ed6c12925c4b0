package promexport

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/arloliu/go-cnc/controller"
	"github.com/arloliu/go-cnc/internal/sim"
	"github.com/arloliu/go-cnc/logger"
	"github.com/arloliu/go-cnc/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	if level, ok := logger.ParseLevel(os.Getenv("LOG_LEVEL")); ok {
		logger.SetLevel(level)
	} else {
		logger.SetLogger(logger.Discard())
	}
	os.Exit(m.Run())
}

func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	return values
}

func TestCollector(t *testing.T) {
	require := require.New(t)

	board := sim.New()
	c, err := controller.New(controller.WithOpener(board.Opener()))
	require.NoError(err)
	defer c.Close()

	reg := prometheus.NewRegistry()
	col, err := Register(reg, c, prometheus.Labels{"machine": "mill"})
	require.NoError(err)
	require.Equal(19, testutil.CollectAndCount(col))

	values := gathered(t, reg)
	require.Zero(values["cnc_controller_connected"])
	require.Zero(values["cnc_controller_lines_sent_total"])

	cfg, err := transport.NewSerialConfig("/dev/ttySIM0")
	require.NoError(err)
	require.NoError(c.Connect(context.Background(), cfg))
	_, err = c.Execute(context.Background(), "G0 X1")
	require.NoError(err)

	require.Eventually(func() bool {
		return gathered(t, reg)["cnc_controller_lines_acked_total"] == 2
	}, time.Second, 5*time.Millisecond)
	values = gathered(t, reg)
	require.Equal(1.0, values["cnc_controller_connected"])
	require.Equal(1.0, values["cnc_controller_connections_total"])
	require.Equal(2.0, values["cnc_controller_lines_sent_total"])
	require.Equal(float64(c.State()), values["cnc_controller_state"])
	require.Positive(values["cnc_controller_bytes_received_total"])

	_, err = Register(reg, c, prometheus.Labels{"machine": "mill"})
	require.Error(err)
}

func TestHandler(t *testing.T) {
	require := require.New(t)

	c, err := controller.New(controller.WithOpener(sim.New().Opener()))
	require.NoError(err)
	defer c.Close()

	reg := prometheus.NewRegistry()
	_, err = Register(reg, c, nil)
	require.NoError(err)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(err)
	require.Contains(string(body), "cnc_controller_bytes_in_flight")
	require.Contains(string(body), "cnc_controller_state")
}
