package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRestart(t *testing.T) {
	RestartsTotal.Reset()
	EmptyClustersTotal.Reset()

	ObserveRestart("group", 4, 0)
	ObserveRestart("group", 6, 2)

	if val := testutil.ToFloat64(RestartsTotal.WithLabelValues("group")); val != 2 {
		t.Errorf("expected 2 restarts, got %f", val)
	}
	if val := testutil.ToFloat64(EmptyClustersTotal.WithLabelValues("group")); val != 2 {
		t.Errorf("expected 2 empty clusters, got %f", val)
	}
	if count := testutil.CollectAndCount(Iterations); count < 1 {
		t.Errorf("expected iterations histogram series, got %d", count)
	}
}

func TestObserveRun(t *testing.T) {
	BestCost.Reset()

	ObserveRun("rep", "team", 0.25, 12.5)
	if val := testutil.ToFloat64(BestCost.WithLabelValues("rep")); val != 12.5 {
		t.Errorf("expected best cost 12.5, got %f", val)
	}

	ObserveRun("rep", "team", 0.5, 3)
	if val := testutil.ToFloat64(BestCost.WithLabelValues("rep")); val != 3 {
		t.Errorf("expected best cost 3, got %f", val)
	}
}

func TestObserveCollective(t *testing.T) {
	CollectiveOps.Reset()

	ObserveCollective("net", "sum", 0.001, nil)
	ObserveCollective("net", "sum", 0.002, nil)
	ObserveCollective("net", "sum", 0.003, errors.New("reset"))

	if val := testutil.ToFloat64(CollectiveOps.WithLabelValues("net", "sum", "success")); val != 2 {
		t.Errorf("expected 2 successful ops, got %f", val)
	}
	if val := testutil.ToFloat64(CollectiveOps.WithLabelValues("net", "sum", "error")); val != 1 {
		t.Errorf("expected 1 failed op, got %f", val)
	}
}

func TestAddWireBytes(t *testing.T) {
	WireBytes.Reset()

	AddWireBytes("sent", 100)
	AddWireBytes("sent", 28)
	AddWireBytes("received", 7)

	if val := testutil.ToFloat64(WireBytes.WithLabelValues("sent")); val != 128 {
		t.Errorf("expected 128 bytes sent, got %f", val)
	}
	if val := testutil.ToFloat64(WireBytes.WithLabelValues("received")); val != 7 {
		t.Errorf("expected 7 bytes received, got %f", val)
	}
}

func TestObserveObjectStoreOp(t *testing.T) {
	ObjectStoreOps.Reset()

	ObserveObjectStoreOp("get", 0.01, nil)
	ObserveObjectStoreOp("get", 0.02, errors.New("not found"))

	if val := testutil.ToFloat64(ObjectStoreOps.WithLabelValues("get", "success")); val != 1 {
		t.Errorf("expected 1 successful get, got %f", val)
	}
	if val := testutil.ToFloat64(ObjectStoreOps.WithLabelValues("get", "error")); val != 1 {
		t.Errorf("expected 1 failed get, got %f", val)
	}
}
