package raft

// readRequest is a pending read-index request. done is called from the event loop.
type readRequest struct {
	done func(index uint64, err error)
}

// readRound confirms leadership for a batch of reads: the reads are served at
// index once a quorum acknowledged a request with a sequence number >= seq.
type readRound struct {
	seq   uint64
	index uint64
	acks  map[uint64]bool
	reqs  []*readRequest
}

func (n *Node) handleReadIndex(req *readRequest) error {
	if n.state != StateLeader {
		req.done(0, n.notLeader())
		return nil
	}
	// a new leader does not know the commit index before it committed in its term
	if !n.committedInTerm() {
		n.pendingReads = append(n.pendingReads, req)
		return nil
	}
	return n.startReadRound([]*readRequest{req})
}

func (n *Node) committedInTerm() bool {
	t, err := n.logs.Term(n.commitIndex)
	return err == nil && t == n.term
}

// startPendingReads starts a round for reads that arrived before the leader
// committed an entry of its term
func (n *Node) startPendingReads() error {
	if len(n.pendingReads) == 0 || n.state != StateLeader || !n.committedInTerm() {
		return nil
	}
	reqs := n.pendingReads
	n.pendingReads = nil
	return n.startReadRound(reqs)
}

func (n *Node) startReadRound(reqs []*readRequest) error {
	n.seq++
	n.readRounds = append(n.readRounds, &readRound{
		seq:   n.seq,
		index: n.commitIndex,
		acks:  map[uint64]bool{n.id: true},
		reqs:  reqs,
	})

	n.confirmReads()
	if len(n.readRounds) == 0 {
		return nil
	}
	// requests in flight carry an older sequence number, their peers get a
	// new heartbeat once they responded
	return n.broadcastAppend()
}

// confirmReads serves all rounds acknowledged by a quorum, in order
func (n *Node) confirmReads() {
	if n.state != StateLeader {
		return
	}
	m := n.membership()
	for len(n.readRounds) > 0 {
		round := n.readRounds[0]
		for id, pr := range n.progress {
			if pr.ackSeq >= round.seq {
				round.acks[id] = true
			}
		}
		if !m.HasQuorum(round.acks) {
			return
		}
		for _, r := range round.reqs {
			r.done(round.index, nil)
		}
		n.readRounds = n.readRounds[1:]
	}
}
