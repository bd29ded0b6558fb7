package raft

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// nodeMetrics are the metrics of a single node. Every node has its own set, so
// several nodes can live in one process (tests).
type nodeMetrics struct {
	set *metrics.Set

	elections     *metrics.Counter
	proposals     *metrics.Counter
	snapshots     *metrics.Counter
	snapshotsRecv *metrics.Counter
	applyDuration *metrics.Histogram
}

func newNodeMetrics(n *Node) *nodeMetrics {
	set := metrics.NewSet()
	label := fmt.Sprintf(`{node="%d"}`, n.id)

	gauge := func(name string, f func(s *Status) float64) {
		set.NewGauge(name+label, func() float64 {
			if st := n.status.Load(); st != nil {
				return f(st)
			}
			return 0
		})
	}
	gauge("dmeta_raft_term", func(s *Status) float64 { return float64(s.Term) })
	gauge("dmeta_raft_commit_index", func(s *Status) float64 { return float64(s.CommitIndex) })
	gauge("dmeta_raft_applied_index", func(s *Status) float64 { return float64(s.AppliedIndex) })
	gauge("dmeta_raft_last_index", func(s *Status) float64 { return float64(s.LastIndex) })
	gauge("dmeta_raft_is_leader", func(s *Status) float64 {
		if s.State == StateLeader {
			return 1
		}
		return 0
	})

	return &nodeMetrics{
		set:           set,
		elections:     set.NewCounter("dmeta_raft_elections_total" + label),
		proposals:     set.NewCounter("dmeta_raft_proposals_total" + label),
		snapshots:     set.NewCounter("dmeta_raft_snapshots_total" + label),
		snapshotsRecv: set.NewCounter("dmeta_raft_snapshots_received_total" + label),
		applyDuration: set.NewHistogram("dmeta_raft_apply_duration_seconds" + label),
	}
}

// WriteMetrics writes the metrics of the node in Prometheus text format
func (n *Node) WriteMetrics(w io.Writer) {
	n.metrics.set.WritePrometheus(w)
}
