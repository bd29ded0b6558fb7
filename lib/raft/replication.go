package raft

import (
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft/logstore"
	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/cockroachdb/errors"
)

// progress is the replication state of a single peer, as seen by the leader
type progress struct {
	next     uint64 // next entry to send
	match    uint64 // highest entry known to be replicated
	inflight bool   // one request per peer at a time
	lastResp time.Time
	ackSeq   uint64 // highest request sequence number acknowledged in this term
}

// replicate commits what can be committed and sends new entries to all peers
func (n *Node) replicate() error {
	if err := n.maybeCommit(); err != nil {
		return err
	}
	return n.broadcastAppend()
}

func (n *Node) broadcastAppend() error {
	for id := range n.progress {
		if err := n.sendAppend(id); err != nil {
			return err
		}
	}
	return nil
}

// sendAppend sends the entries the peer is missing, or an empty append as heartbeat.
// A snapshot is sent instead if the entries are compacted.
func (n *Node) sendAppend(to uint64) error {
	pr := n.progress[to]
	if pr == nil || pr.inflight {
		return nil
	}

	last := n.logs.LastIndex()
	if pr.next > last+1 {
		pr.next = last + 1
	}
	if pr.next < n.logs.FirstIndex() {
		return n.sendSnapshot(to, pr)
	}

	prev := pr.next - 1
	prevTerm, err := n.logs.Term(prev)
	if errors.Is(err, logstore.ErrCompacted) {
		return n.sendSnapshot(to, pr)
	} else if err != nil {
		return err
	}

	var ents []raftpb.Entry
	if pr.next <= last {
		hi := min(last+1, pr.next+n.cfg.MaxEntriesPerMsg)
		ents, err = n.logs.Entries(pr.next, hi, n.cfg.MaxSizePerMsg)
		if errors.Is(err, logstore.ErrCompacted) {
			return n.sendSnapshot(to, pr)
		} else if err != nil {
			return err
		}
	}

	pr.inflight = n.send(to, raftpb.Message{
		Type:         raftpb.MsgApp,
		Term:         n.term,
		From:         n.id,
		To:           to,
		PrevLogIndex: prev,
		PrevLogTerm:  prevTerm,
		Entries:      ents,
		Commit:       n.commitIndex,
		Seq:          n.seq,
	})
	return nil
}

func (n *Node) handleAppend(m raftpb.Message) (raftpb.Message, error) {
	now := time.Now()
	resp := raftpb.Message{Type: raftpb.MsgAppResp, Term: n.term, From: n.id, To: m.From, Seq: m.Seq}
	if m.Term < n.term {
		return resp, nil
	}

	if err := n.becomeFollower(m.Term, m.From); err != nil {
		return resp, err
	}
	n.lastLeaderContact = now
	n.resetElectionDeadline(now)
	resp.Term = n.term

	prev, prevTerm, ents := m.PrevLogIndex, m.PrevLogTerm, m.Entries

	// committed entries match the leader, only the rest must be checked
	if prev < n.commitIndex {
		skip := n.commitIndex - prev
		if skip >= uint64(len(ents)) {
			resp.Success = true
			resp.MatchIndex = n.commitIndex
			return resp, nil
		}
		prev, prevTerm = n.commitIndex, ents[skip-1].Term
		ents = ents[skip:]
	}

	t, err := n.logs.Term(prev)
	switch {
	case errors.Is(err, logstore.ErrUnavailable):
		resp.ConflictIndex = n.logs.LastIndex() + 1
		return resp, nil
	case errors.Is(err, logstore.ErrCompacted):
		resp.ConflictIndex = n.commitIndex + 1
		return resp, nil
	case err != nil:
		return resp, err
	}
	if t != prevTerm {
		resp.ConflictTerm = t
		resp.ConflictIndex, err = n.firstIndexOfTerm(prev, t)
		return resp, err
	}

	// skip entries already in the log, a conflicting suffix is replaced
	last := n.logs.LastIndex()
	i := 0
	for ; i < len(ents) && ents[i].Index <= last; i++ {
		et, err := n.logs.Term(ents[i].Index)
		if err != nil {
			return resp, err
		}
		if et == ents[i].Term {
			continue
		}
		if ents[i].Index <= n.commitIndex {
			panic(errors.AssertionFailedf("node %d: conflict at committed index %d (commit %d)", n.id, ents[i].Index, n.commitIndex))
		}
		log.Warningf("node %d: removing conflicting entries after %d", n.id, ents[i].Index-1)
		if err := n.logs.TruncateAfter(ents[i].Index - 1); err != nil {
			return resp, err
		}
		n.truncateConfigs(ents[i].Index - 1)
		break
	}
	if rest := ents[i:]; len(rest) > 0 {
		if err := n.logs.Append(rest); err != nil {
			return resp, err
		}
		n.trackConfigs(rest)
	}

	lastNew := prev + uint64(len(ents))
	if m.Commit > n.commitIndex {
		n.commitIndex = max(n.commitIndex, min(m.Commit, lastNew))
		if err := n.apply(); err != nil {
			return resp, err
		}
	}

	resp.Success = true
	resp.MatchIndex = lastNew
	return resp, nil
}

// firstIndexOfTerm returns the first uncommitted index of the run of entries of term
// that ends at index. The leader skips the whole run on a conflict.
func (n *Node) firstIndexOfTerm(index, term uint64) (uint64, error) {
	first := n.logs.FirstIndex()
	for index > n.commitIndex+1 && index > first {
		t, err := n.logs.Term(index - 1)
		if err != nil {
			return 0, err
		}
		if t != term {
			break
		}
		index--
	}
	return index, nil
}

func (n *Node) handleAppendResp(req, m raftpb.Message) error {
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
	} else {
		// the conflict index may be 0 for a rejection that carries no hint
		pr.next = max(pr.match+1, min(m.ConflictIndex, pr.next-1))
	}

	n.confirmReads()

	if n.state != StateLeader {
		return nil
	}
	if pr := n.progress[m.From]; pr != nil && (pr.next <= n.logs.LastIndex() || pr.ackSeq < n.seq) {
		return n.sendAppend(m.From)
	}
	return nil
}

// maybeCommit advances the commit index to the highest entry of the current term
// that is replicated on a quorum
func (n *Node) maybeCommit() error {
	if n.state != StateLeader {
		return nil
	}

	match := map[uint64]uint64{n.id: n.logs.LastIndex()}
	for id, pr := range n.progress {
		match[id] = pr.match
	}
	q := n.membership().QuorumIndex(match)
	if q <= n.commitIndex {
		return nil
	}
	t, err := n.logs.Term(q)
	if err != nil {
		return err
	}
	if t != n.term {
		return nil
	}

	n.commitIndex = q
	if err := n.apply(); err != nil {
		return err
	}
	if err := n.startPendingReads(); err != nil {
		return err
	}
	return n.advanceMembership()
}

// apply applies all committed entries and resolves their proposals
func (n *Node) apply() error {
	for n.appliedIndex < n.commitIndex {
		ents, err := n.logs.Entries(n.appliedIndex+1, n.commitIndex+1, n.cfg.MaxSizePerMsg)
		if err != nil {
			return err
		}
		for _, ent := range ents {
			var res Result
			if ent.Type == raftpb.EntryClientWrite {
				start := time.Now()
				res = n.sm.Apply(ent)
				n.metrics.applyDuration.UpdateDuration(start)
			}
			n.appliedIndex = ent.Index

			if p, ok := n.proposals[ent.Index]; ok {
				delete(n.proposals, ent.Index)
				if p.term == ent.Term {
					p.done <- ApplyResult{Index: ent.Index, Result: res}
				} else {
					p.done <- ApplyResult{Index: ent.Index, Err: ErrProposalDropped}
				}
			}
		}
	}
	n.notifyApplied(n.appliedIndex)
	return n.maybeSnapshot()
}
