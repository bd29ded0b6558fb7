package raft

import (
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/cockroachdb/errors"
)

// configEntry is a membership configuration in the log. A configuration takes
// effect as soon as it is appended, not when it is committed.
type configEntry struct {
	index uint64
	m     raftpb.Membership
}

// learnerState is a node that receives the log before it becomes a voter
type learnerState struct {
	id   uint64
	addr string
}

type changePhase uint8

const (
	phaseCatchingUp changePhase = iota
	phaseJoint
	phaseFinal
)

type pendingChange struct {
	req      confRequest
	resp     chan error
	phase    changePhase
	deadline time.Time
}

// --------------------------------------------------------------------------
// Configuration tracking
// --------------------------------------------------------------------------

// membership returns the effective configuration
func (n *Node) membership() raftpb.Membership {
	if len(n.configs) > 0 {
		return n.configs[len(n.configs)-1].m
	}
	return n.baseConfig
}

func (n *Node) lastConfigIndex() uint64 {
	if len(n.configs) > 0 {
		return n.configs[len(n.configs)-1].index
	}
	return n.baseIndex
}

// membershipAt returns the configuration that was effective at index
func (n *Node) membershipAt(index uint64) raftpb.Membership {
	for i := len(n.configs) - 1; i >= 0; i-- {
		if n.configs[i].index <= index {
			return n.configs[i].m
		}
	}
	return n.baseConfig
}

func (n *Node) trackConfigs(ents []raftpb.Entry) {
	changed := false
	for _, ent := range ents {
		if ent.Type != raftpb.EntryConfigChange {
			continue
		}
		m, err := raftpb.DecodeMembership(ent.Data)
		if err != nil {
			panic(errors.AssertionFailedf("node %d: corrupt configuration at %d: %v", n.id, ent.Index, err))
		}
		n.configs = append(n.configs, configEntry{index: ent.Index, m: m})
		changed = true
	}
	if changed {
		n.updateConfView()
	}
}

// truncateConfigs drops configurations of removed entries (index > after)
func (n *Node) truncateConfigs(after uint64) {
	i := len(n.configs)
	for i > 0 && n.configs[i-1].index > after {
		i--
	}
	if i < len(n.configs) {
		n.configs = n.configs[:i]
		n.updateConfView()
	}
}

// compactConfigs folds all configurations covered by a snapshot into the base
func (n *Node) compactConfigs(meta raftpb.SnapshotMeta) {
	i := 0
	for i < len(n.configs) && n.configs[i].index <= meta.Index {
		i++
	}
	n.configs = append([]configEntry(nil), n.configs[i:]...)
	n.baseConfig = meta.Membership.Clone()
	n.baseIndex = meta.Index
	n.updateConfView()
}

func (n *Node) updateConfView() {
	m := n.membership()
	if n.confView.String() != m.String() {
		log.Infof("node %d: membership is now %s", n.id, m)
	}
	n.confView = m.Clone()
	if n.state == StateLeader {
		n.syncProgress(time.Now())
	}
}

// syncProgress adds or removes peers after a configuration change
func (n *Node) syncProgress(now time.Time) {
	m := n.membership()
	last := n.logs.LastIndex()
	for _, id := range m.Voters() {
		if id == n.id {
			continue
		}
		if _, ok := n.progress[id]; !ok {
			n.progress[id] = &progress{next: last + 1, lastResp: now}
		}
	}
	for id := range n.progress {
		if !m.IsVoter(id) && (n.learner == nil || n.learner.id != id) {
			delete(n.progress, id)
		}
	}
}

// --------------------------------------------------------------------------
// Membership changes
// --------------------------------------------------------------------------

func (n *Node) handleConfChange(ev *event) error {
	req := ev.conf
	if n.state != StateLeader {
		ev.confC <- n.notLeader()
		return nil
	}
	m := n.membership()
	if n.pending != nil || m.IsJoint() || n.lastConfigIndex() > n.commitIndex {
		ev.confC <- ErrMembershipChangePending
		return nil
	}

	addr, member := m.Members[req.id]
	if req.add {
		if member && addr == req.addr {
			ev.confC <- nil
			return nil
		}
		if member {
			ev.confC <- errors.Newf("node %d is already a member at %s", req.id, addr)
			return nil
		}

		now := time.Now()
		n.pending = &pendingChange{req: req, resp: ev.confC, phase: phaseCatchingUp, deadline: now.Add(n.cfg.JoinTimeout)}
		n.learner = &learnerState{id: req.id, addr: req.addr}
		n.progress[req.id] = &progress{next: n.logs.LastIndex() + 1, lastResp: now}
		log.Infof("node %d: adding node %d at %s, replicating log", n.id, req.id, req.addr)
		return n.sendAppend(req.id)
	}

	if !member {
		ev.confC <- nil
		return nil
	}
	if len(m.Members) == 1 {
		ev.confC <- errors.Newf("cannot remove node %d, it is the only member", req.id)
		return nil
	}
	n.pending = &pendingChange{req: req, resp: ev.confC, phase: phaseJoint}
	log.Infof("node %d: removing node %d", n.id, req.id)
	return n.proposeJoint()
}

// maybeLearnerCaughtUp starts the joint phase once the learner has all committed entries
func (n *Node) maybeLearnerCaughtUp(id uint64) error {
	if n.pending == nil || n.pending.phase != phaseCatchingUp || n.learner == nil || n.learner.id != id {
		return nil
	}
	if pr := n.progress[id]; pr == nil || pr.match < n.commitIndex {
		return nil
	}
	log.Infof("node %d: node %d caught up at %d", n.id, id, n.progress[id].match)
	return n.proposeJoint()
}

// proposeJoint appends the joint configuration of the current and the target set
func (n *Node) proposeJoint() error {
	m := n.membership()
	target := m.Clone().Members
	if n.pending.req.add {
		target[n.pending.req.id] = n.pending.req.addr
	} else {
		delete(target, n.pending.req.id)
	}
	n.pending.phase = phaseJoint
	n.learner = nil

	joint := raftpb.Membership{Members: m.Members, MembersAfterChange: target}
	if _, err := n.appendLocal(raftpb.EntryConfigChange, raftpb.EncodeMembership(joint)); err != nil {
		return err
	}
	return n.replicate()
}

// advanceMembership moves a committed joint configuration to the final one and
// resolves the pending change once the final configuration is committed
func (n *Node) advanceMembership() error {
	if n.state != StateLeader || n.lastConfigIndex() > n.commitIndex {
		return nil
	}

	m := n.membership()
	if m.IsJoint() {
		if n.pending != nil {
			n.pending.phase = phaseFinal
		}
		final := raftpb.Membership{Members: m.Target()}
		if _, err := n.appendLocal(raftpb.EntryConfigChange, raftpb.EncodeMembership(final)); err != nil {
			return err
		}
		return n.replicate()
	}

	if n.pending != nil && n.pending.phase == phaseFinal {
		log.Infof("node %d: membership change committed, members %s", n.id, m)
		n.pending.resp <- nil
		n.pending = nil
	}
	if !m.IsVoter(n.id) {
		log.Infof("node %d: removed from the cluster, stepping down", n.id)
		return n.becomeFollower(n.term, 0)
	}
	return nil
}

// checkJoinTimeout aborts an add whose learner does not catch up in time
func (n *Node) checkJoinTimeout(now time.Time) {
	if n.pending == nil || n.pending.phase != phaseCatchingUp || now.Before(n.pending.deadline) {
		return
	}
	id := n.pending.req.id
	log.Warningf("node %d: node %d did not catch up in %s, aborting the join", n.id, id, n.cfg.JoinTimeout)
	n.pending.resp <- errors.Mark(errors.Newf("node %d did not catch up in time", id), ErrUnavailable)
	n.pending = nil
	n.learner = nil
	delete(n.progress, id)
}

// failLeaderRequests fails all requests that only a leader can complete
func (n *Node) failLeaderRequests(err error) {
	if n.pending != nil {
		n.pending.resp <- err
		n.pending = nil
	}
	for _, r := range n.pendingReads {
		r.done(0, err)
	}
	n.pendingReads = nil
	for _, round := range n.readRounds {
		for _, r := range round.reqs {
			r.done(0, err)
		}
	}
	n.readRounds = nil
}
