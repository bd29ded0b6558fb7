package raft

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/zstd"
)

// snapshot images are compressed, the encoder and decoder are safe for concurrent use
var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func (n *Node) maybeSnapshot() error {
	if n.cfg.SnapshotEntries == 0 || n.snapshotting {
		return nil
	}
	if n.appliedIndex < n.logs.SnapshotMeta().Index+n.cfg.SnapshotEntries {
		return nil
	}
	return n.takeSnapshot()
}

// takeSnapshot writes the state machine image in the loop (the state must not change
// while it is written) and compresses it on a worker
func (n *Node) takeSnapshot() error {
	term, err := n.logs.Term(n.appliedIndex)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := n.sm.Snapshot(&buf); err != nil {
		log.Errorf("node %d: snapshot of state machine at %d failed: %v", n.id, n.appliedIndex, err)
		return nil
	}

	meta := raftpb.SnapshotMeta{
		Index:      n.appliedIndex,
		Term:       term,
		Membership: n.membershipAt(n.appliedIndex).Clone(),
	}
	n.snapshotting = true

	image := buf.Bytes()
	n.stopper.RunWorker(func() {
		data := encoder.EncodeAll(image, make([]byte, 0, len(image)/2))
		n.inbox.Push(&event{kind: evSnapshotReady, snap: raftpb.Snapshot{Meta: meta, Data: data}})
	})
	return nil
}

func (n *Node) handleSnapshotReady(ev *event) error {
	n.snapshotting = false

	snap := ev.snap
	if snap.Meta.Index <= n.logs.SnapshotMeta().Index {
		// a newer snapshot was installed from the leader in the meantime
		return nil
	}
	if err := n.logs.SaveSnapshot(snap); err != nil {
		return err
	}
	n.compactConfigs(snap.Meta)

	if snap.Meta.Index+1 > n.cfg.CompactionOverhead {
		if err := n.logs.PurgeBefore(snap.Meta.Index + 1 - n.cfg.CompactionOverhead); err != nil {
			return err
		}
	}
	n.metrics.snapshots.Inc()
	log.Infof("node %d: created snapshot at %d (%d bytes), log starts at %d", n.id, snap.Meta.Index, len(snap.Data), n.logs.FirstIndex())
	return nil
}

func (n *Node) sendSnapshot(to uint64, pr *progress) error {
	snap, err := n.logs.Snapshot()
	if err != nil {
		return err
	}
	if snap.IsEmpty() {
		panic(errors.AssertionFailedf("node %d: entries for %d are compacted but there is no snapshot", n.id, to))
	}

	log.Infof("node %d: sending snapshot %d to %d", n.id, snap.Meta.Index, to)
	pr.inflight = n.send(to, raftpb.Message{
		Type:     raftpb.MsgSnap,
		Term:     n.term,
		From:     n.id,
		To:       to,
		Snapshot: &snap,
		Seq:      n.seq,
	})
	return nil
}

func (n *Node) handleSnapshot(m raftpb.Message) (raftpb.Message, error) {
	now := time.Now()
	resp := raftpb.Message{Type: raftpb.MsgSnapResp, Term: n.term, From: n.id, To: m.From, Seq: m.Seq}
	if m.Term < n.term {
		return resp, nil
	}

	if err := n.becomeFollower(m.Term, m.From); err != nil {
		return resp, err
	}
	n.lastLeaderContact = now
	n.resetElectionDeadline(now)
	resp.Term = n.term

	if m.Snapshot == nil {
		return resp, nil
	}
	snap := *m.Snapshot
	if snap.Meta.Index <= n.commitIndex {
		resp.Success = true
		resp.MatchIndex = n.commitIndex
		return resp, nil
	}

	// a broken image is rejected, the leader retries
	if err := n.restoreStateMachine(snap); err != nil {
		log.Errorf("node %d: rejected snapshot %d from %d: %v", n.id, snap.Meta.Index, m.From, err)
		return resp, nil
	}
	if err := n.logs.InstallSnapshot(snap); err != nil {
		return resp, err
	}

	n.compactConfigs(snap.Meta)
	n.truncateConfigs(n.logs.LastIndex())
	n.commitIndex = snap.Meta.Index
	n.appliedIndex = snap.Meta.Index
	for index, p := range n.proposals {
		if index <= snap.Meta.Index {
			delete(n.proposals, index)
			p.done <- ApplyResult{Index: index, Err: ErrProposalDropped}
		}
	}
	n.notifyApplied(snap.Meta.Index)
	n.metrics.snapshotsRecv.Inc()

	log.Infof("node %d: installed snapshot %d from %d, membership %s", n.id, snap.Meta.Index, m.From, snap.Meta.Membership)

	resp.Success = true
	resp.MatchIndex = snap.Meta.Index
	return resp, nil
}

func (n *Node) handleSnapshotResp(req, m raftpb.Message) error {
	if n.state != StateLeader || req.Term != n.term || m.Term != n.term {
		return nil
	}
	pr := n.progress[m.From]
	if pr == nil {
		return nil
	}
	pr.inflight = false
	pr.lastResp = time.Now()
	pr.ackSeq = max(pr.ackSeq, m.Seq)

	if m.Success {
		pr.match = max(pr.match, m.MatchIndex)
		pr.next = max(pr.next, pr.match+1)
		if err := n.maybeCommit(); err != nil {
			return err
		}
		if err := n.maybeLearnerCaughtUp(m.From); err != nil {
			return err
		}
	}

	n.confirmReads()

	if n.state != StateLeader {
		return nil
	}
	if pr := n.progress[m.From]; pr != nil && m.Success && pr.next <= n.logs.LastIndex() {
		return n.sendAppend(m.From)
	}
	return nil
}

func (n *Node) restoreStateMachine(snap raftpb.Snapshot) error {
	image, err := decoder.DecodeAll(snap.Data, nil)
	if err != nil {
		return errors.Wrap(err, "decompress snapshot")
	}
	return n.sm.Restore(bytes.NewReader(image))
}
