package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	// None of these should panic.
	m.Accepted()
	m.Rejected()
	m.SetPeers(3)
	m.Received(1)
	m.Delivered(2)
	m.RateLimited()
	m.Error("read")
}

func TestMetricsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Accepted()
	m.Accepted()
	m.Rejected()
	m.SetPeers(2)
	m.Received(3)
	m.Delivered(6)
	m.Error("write")

	if actual := testutil.ToFloat64(m.AcceptedConnections); actual != 2 {
		t.Errorf("Got %v accepted; expected 2", actual)
	}
	if actual := testutil.ToFloat64(m.RejectedConnections); actual != 1 {
		t.Errorf("Got %v rejected; expected 1", actual)
	}
	if actual := testutil.ToFloat64(m.RegisteredPeers); actual != 2 {
		t.Errorf("Got %v peers; expected 2", actual)
	}
	if actual := testutil.ToFloat64(m.MessagesDelivered); actual != 6 {
		t.Errorf("Got %v delivered; expected 6", actual)
	}
	if actual := testutil.ToFloat64(m.Errors.WithLabelValues("write")); actual != 1 {
		t.Errorf("Got %v write errors; expected 1", actual)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Received(5)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "tchat_relay_messages_received_total 5") {
		t.Errorf("Metrics output missing received counter:\n%s", body)
	}
}
