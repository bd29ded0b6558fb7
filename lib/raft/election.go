package raft

import (
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
)

func (n *Node) resetElectionDeadline(now time.Time) {
	timeout := n.cfg.ElectionTimeoutMin
	if spread := n.cfg.ElectionTimeoutMax - n.cfg.ElectionTimeoutMin; spread > 0 {
		timeout += time.Duration(n.rng.Int63n(int64(spread)))
	}
	n.electionDeadline = now.Add(timeout)
}

// inLease reports whether the node believes a leader is alive. Vote requests of
// a higher term are ignored during the lease, so a node that was partitioned away
// cannot disrupt a healthy cluster when it comes back.
func (n *Node) inLease(now time.Time) bool {
	if n.state == StateLeader {
		return true
	}
	return n.leaderID != 0 && now.Sub(n.lastLeaderContact) < n.cfg.ElectionTimeoutMin
}

// becomeFollower switches to follower of term. leader is 0 if unknown.
// The hard state is persisted if the term increased.
func (n *Node) becomeFollower(term, leader uint64) error {
	if term > n.term {
		n.term = term
		n.votedFor = 0
		if err := n.persistHardState(); err != nil {
			return err
		}
	}

	wasLeader := n.state == StateLeader
	n.state = StateFollower
	if leader != 0 && leader != n.leaderID {
		log.Infof("node %d: following leader %d in term %d", n.id, leader, n.term)
	}
	n.leaderID = leader
	n.votes = nil

	if wasLeader {
		log.Infof("node %d: stepped down in term %d", n.id, n.term)
		n.failLeaderRequests(n.notLeader())
		n.progress = nil
		n.learner = nil
	}
	return nil
}

func (n *Node) campaign(now time.Time) error {
	n.state = StateCandidate
	n.term++
	n.votedFor = n.id
	n.leaderID = 0
	if err := n.persistHardState(); err != nil {
		return err
	}
	n.votes = map[uint64]bool{n.id: true}
	n.metrics.elections.Inc()
	n.resetElectionDeadline(now)

	log.Infof("node %d: starting election in term %d", n.id, n.term)

	m := n.membership()
	if m.HasQuorum(n.votes) {
		return n.becomeLeader(now)
	}

	lastIndex := n.logs.LastIndex()
	lastTerm, err := n.logs.Term(lastIndex)
	if err != nil {
		return err
	}
	for _, id := range m.Voters() {
		if id == n.id {
			continue
		}
		n.send(id, raftpb.Message{
			Type:         raftpb.MsgVote,
			Term:         n.term,
			From:         n.id,
			To:           id,
			LastLogIndex: lastIndex,
			LastLogTerm:  lastTerm,
		})
	}
	return nil
}

func (n *Node) handleVote(m raftpb.Message) (raftpb.Message, error) {
	now := time.Now()
	resp := raftpb.Message{Type: raftpb.MsgVoteResp, Term: n.term, From: n.id, To: m.From}

	if m.Term > n.term && n.inLease(now) {
		log.Debugf("node %d: ignoring vote of %d for term %d, leader %d is alive", n.id, m.From, m.Term, n.leaderID)
		return resp, nil
	}
	if m.Term > n.term {
		if err := n.becomeFollower(m.Term, 0); err != nil {
			return resp, err
		}
		resp.Term = n.term
	}
	if m.Term < n.term {
		return resp, nil
	}

	lastIndex := n.logs.LastIndex()
	lastTerm, err := n.logs.Term(lastIndex)
	if err != nil {
		return resp, err
	}
	upToDate := m.LastLogTerm > lastTerm || (m.LastLogTerm == lastTerm && m.LastLogIndex >= lastIndex)

	if (n.votedFor == 0 || n.votedFor == m.From) && upToDate {
		if n.votedFor != m.From {
			n.votedFor = m.From
			if err := n.persistHardState(); err != nil {
				return resp, err
			}
		}
		resp.Granted = true
		n.resetElectionDeadline(now)
		log.Infof("node %d: voted for %d in term %d", n.id, m.From, n.term)
	}
	return resp, nil
}

func (n *Node) handleVoteResp(req, m raftpb.Message) error {
	if n.state != StateCandidate || req.Term != n.term || m.Term != n.term {
		return nil
	}
	if !m.Granted {
		return nil
	}
	n.votes[m.From] = true
	if n.membership().HasQuorum(n.votes) {
		return n.becomeLeader(time.Now())
	}
	return nil
}

func (n *Node) becomeLeader(now time.Time) error {
	n.state = StateLeader
	n.leaderID = n.id
	n.votes = nil
	log.Infof("node %d: became leader in term %d", n.id, n.term)

	n.progress = make(map[uint64]*progress)
	n.syncProgress(now)

	n.heartbeatDeadline = now.Add(n.cfg.HeartbeatInterval)
	n.quorumDeadline = now.Add(n.cfg.ElectionTimeoutMax)

	// entries of older terms are committed by committing an entry of this term
	if _, err := n.appendLocal(raftpb.EntryNoOp, nil); err != nil {
		return err
	}
	return n.replicate()
}

// quorumActive reports whether a quorum responded within the last election timeout
func (n *Node) quorumActive(now time.Time) bool {
	active := map[uint64]bool{n.id: true}
	for id, pr := range n.progress {
		if now.Sub(pr.lastResp) < n.cfg.ElectionTimeoutMax {
			active[id] = true
		}
	}
	return n.membership().HasQuorum(active)
}
