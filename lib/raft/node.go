package raft

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/ValentinKolb/dMeta/lib/util"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/lni/goutils/syncutil"
)

var log = logger.GetLogger("raft")

// --------------------------------------------------------------------------
// State and Status
// --------------------------------------------------------------------------

type State uint8

const (
	StateFollower State = iota
	StateCandidate
	StateLeader
)

func (s State) String() string {
	switch s {
	case StateFollower:
		return "Follower"
	case StateCandidate:
		return "Candidate"
	case StateLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Follower":
		*s = StateFollower
	case "Candidate":
		*s = StateCandidate
	case "Leader":
		*s = StateLeader
	default:
		return errors.Newf("unknown raft state %q", text)
	}
	return nil
}

// Status is a point in time view of a node, published after every event
type Status struct {
	ID            uint64            `json:"id"`
	Addr          string            `json:"addr"`
	State         State             `json:"state"`
	Term          uint64            `json:"term"`
	LeaderID      uint64            `json:"leader_id"`
	LeaderAddr    string            `json:"leader_addr"`
	CommitIndex   uint64            `json:"commit_index"`
	AppliedIndex  uint64            `json:"applied_index"`
	LastIndex     uint64            `json:"last_index"`
	SnapshotIndex uint64            `json:"snapshot_index"`
	Membership    raftpb.Membership `json:"membership"`
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

type eventKind uint8

const (
	evPropose eventKind = iota
	evStep
	evReadIndex
	evConfChange
	evPeerResp
	evSnapshotReady
)

type proposeResult struct {
	index uint64
	done  chan ApplyResult
	err   error
}

type stepResult struct {
	msg raftpb.Message
	err error
}

type readResult struct {
	index uint64
	err   error
}

type confRequest struct {
	add  bool
	id   uint64
	addr string
}

// event is the single message type of the inbox. Which fields are used
// depends on the kind.
type event struct {
	kind eventKind

	data     []byte
	proposeC chan proposeResult

	msg   raftpb.Message // inbound message or peer response
	req   raftpb.Message // request of a peer response
	err   error          // peer or worker error
	stepC chan stepResult

	readC chan readResult

	conf  confRequest
	confC chan error

	snap raftpb.Snapshot
}

type proposal struct {
	term uint64
	done chan ApplyResult
}

type appliedWaiter struct {
	index uint64
	ch    chan struct{}
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

// Node is a member of a consensus group
type Node struct {
	cfg       Config
	id        uint64
	logs      LogStore
	sm        StateMachine
	transport Transport

	inbox   *util.LockFreeMPSC[event]
	stopper *syncutil.Stopper
	ctx     context.Context
	cancel  context.CancelFunc
	doneC   chan struct{}
	started atomic.Bool
	stop    sync.Once

	status  atomic.Pointer[Status]
	metrics *nodeMetrics

	errMu    sync.Mutex
	fatalErr error

	appliedMu      sync.Mutex
	appliedIdx     uint64
	appliedWaiters []appliedWaiter

	// everything below is owned by the event loop

	rng               *rand.Rand
	state             State
	term              uint64
	votedFor          uint64
	leaderID          uint64
	commitIndex       uint64
	appliedIndex      uint64
	lastLeaderContact time.Time
	electionDeadline  time.Time
	heartbeatDeadline time.Time
	quorumDeadline    time.Time
	votes             map[uint64]bool

	progress  map[uint64]*progress
	proposals map[uint64]*proposal

	baseConfig raftpb.Membership
	baseIndex  uint64
	configs    []configEntry
	confView   raftpb.Membership
	learner    *learnerState
	pending    *pendingChange

	seq          uint64
	pendingReads []*readRequest
	readRounds   []*readRound

	snapshotting bool
}

// NewNode creates a node. The log store and state machine are owned by the node
// until it is stopped.
func NewNode(cfg Config, logs LogStore, sm StateMachine, transport Transport) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:       cfg,
		id:        cfg.ID,
		logs:      logs,
		sm:        sm,
		transport: transport,
		inbox:     util.NewLockFreeMPSC[event](),
		stopper:   syncutil.NewStopper(),
		ctx:       ctx,
		cancel:    cancel,
		doneC:     make(chan struct{}),
		rng:       rand.New(rand.NewSource(int64(util.GenerateSeed()))),
		proposals: make(map[uint64]*proposal),
	}
	n.metrics = newNodeMetrics(n)
	// a status is readable before Start, requests may arrive before the node runs
	n.publishStatus()
	return n, nil
}

// ID returns the id of the node
func (n *Node) ID() uint64 {
	return n.id
}

// Start restores the persisted state and starts the event loop
func (n *Node) Start() error {
	if err := n.restore(); err != nil {
		return err
	}
	n.resetElectionDeadline(time.Now())
	n.publishStatus()

	log.Infof("node %d: started in term %d, commit %d, membership %s", n.id, n.term, n.commitIndex, n.confView)
	n.started.Store(true)
	n.stopper.RunWorker(n.run)
	return nil
}

// restore loads hard state, snapshot and membership, and bootstraps a new cluster
func (n *Node) restore() error {
	hs, err := n.logs.HardState()
	if err != nil {
		return err
	}
	n.term, n.votedFor = hs.Term, hs.VotedFor

	snap, err := n.logs.Snapshot()
	if err != nil {
		return err
	}
	if !snap.IsEmpty() {
		if err := n.restoreStateMachine(snap); err != nil {
			return errors.Wrapf(err, "restore snapshot %d", snap.Meta.Index)
		}
	}
	n.commitIndex = snap.Meta.Index
	n.appliedIndex = snap.Meta.Index
	n.appliedIdx = snap.Meta.Index
	n.baseConfig = snap.Meta.Membership.Clone()
	n.baseIndex = snap.Meta.Index

	// the effective membership is the last configuration in the log
	first, last := n.logs.FirstIndex(), n.logs.LastIndex()
	for lo := first; lo <= last; {
		ents, err := n.logs.Entries(lo, last+1, 4<<20)
		if err != nil {
			return err
		}
		n.trackConfigs(ents)
		lo += uint64(len(ents))
	}

	if last == 0 && snap.IsEmpty() && len(n.cfg.Peers) > 0 {
		if err := n.bootstrap(); err != nil {
			return err
		}
	}
	n.updateConfView()
	return nil
}

// bootstrap writes the initial membership. All nodes of a new cluster write the
// same entry at index 1, so it can be treated as committed.
func (n *Node) bootstrap() error {
	m := raftpb.Membership{Members: make(map[uint64]string, len(n.cfg.Peers))}
	for id, addr := range n.cfg.Peers {
		m.Members[id] = addr
	}

	if n.term < 1 {
		n.term = 1
		if err := n.persistHardState(); err != nil {
			return err
		}
	}
	ent := raftpb.Entry{Index: 1, Term: 1, Type: raftpb.EntryConfigChange, Data: raftpb.EncodeMembership(m)}
	if err := n.logs.Append([]raftpb.Entry{ent}); err != nil {
		return err
	}
	n.trackConfigs([]raftpb.Entry{ent})
	n.commitIndex = 1

	log.Infof("node %d: bootstrapped cluster with %s", n.id, m)
	return nil
}

// Stop stops the event loop and waits for all workers
func (n *Node) Stop() {
	n.stop.Do(func() {
		n.cancel()
		if !n.started.Load() {
			close(n.doneC)
			return
		}
		n.stopper.Stop()
		<-n.doneC
		log.Infof("node %d: stopped", n.id)
	})
}

// Done is closed once the node stopped, either by Stop or after a fatal error
func (n *Node) Done() <-chan struct{} {
	return n.doneC
}

// Err returns the fatal error that stopped the node, if any
func (n *Node) Err() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.fatalErr
}

// Status returns the latest published status of the node
func (n *Node) Status() Status {
	return *n.status.Load()
}

// --------------------------------------------------------------------------
// Public API (all calls are forwarded to the event loop)
// --------------------------------------------------------------------------

func (n *Node) push(ev *event) error {
	if n.inbox.Push(ev) {
		return nil
	}
	return n.stoppedErr()
}

func (n *Node) stoppedErr() error {
	if err := n.Err(); err != nil {
		return errors.Mark(errors.Wrap(err, "node failed"), ErrUnavailable)
	}
	return ErrStopped
}

func ctxErr(ctx context.Context) error {
	return errors.Mark(errors.Wrap(ctx.Err(), "waiting for node"), ErrUnavailable)
}

// Propose appends data to the log if the node is the leader. It returns the index
// of the new entry and a channel that receives the result once the entry is applied.
// The call does not wait for the commit.
func (n *Node) Propose(ctx context.Context, data []byte) (uint64, <-chan ApplyResult, error) {
	ev := &event{kind: evPropose, data: data, proposeC: make(chan proposeResult, 1)}
	if err := n.push(ev); err != nil {
		return 0, nil, err
	}
	select {
	case r := <-ev.proposeC:
		return r.index, r.done, r.err
	case <-ctx.Done():
		return 0, nil, ctxErr(ctx)
	case <-n.doneC:
		return 0, nil, n.stoppedErr()
	}
}

// Step handles a message of another node and returns the response
func (n *Node) Step(ctx context.Context, msg raftpb.Message) (raftpb.Message, error) {
	ev := &event{kind: evStep, msg: msg, stepC: make(chan stepResult, 1)}
	if err := n.push(ev); err != nil {
		return raftpb.Message{}, err
	}
	select {
	case r := <-ev.stepC:
		return r.msg, r.err
	case <-ctx.Done():
		return raftpb.Message{}, ctxErr(ctx)
	case <-n.doneC:
		return raftpb.Message{}, n.stoppedErr()
	}
}

// ReadIndex returns a commit index that is safe for a linearizable read: once the
// local state machine applied it, the read reflects every write that completed
// before ReadIndex was called. Followers ask the leader.
func (n *Node) ReadIndex(ctx context.Context) (uint64, error) {
	st := n.Status()
	if st.State != StateLeader {
		return n.forwardReadIndex(ctx, st)
	}

	ev := &event{kind: evReadIndex, readC: make(chan readResult, 1)}
	if err := n.push(ev); err != nil {
		return 0, err
	}
	select {
	case r := <-ev.readC:
		return r.index, r.err
	case <-ctx.Done():
		return 0, ctxErr(ctx)
	case <-n.doneC:
		return 0, n.stoppedErr()
	}
}

func (n *Node) forwardReadIndex(ctx context.Context, st Status) (uint64, error) {
	if st.LeaderID == 0 || st.LeaderAddr == "" {
		return 0, errors.Mark(errors.New("no leader known"), ErrUnavailable)
	}
	resp, err := n.transport.Send(ctx, st.LeaderID, st.LeaderAddr, raftpb.Message{
		Type: raftpb.MsgReadIndex,
		Term: st.Term,
		From: n.id,
		To:   st.LeaderID,
	})
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "read index from leader %d", st.LeaderID), ErrUnavailable)
	}
	if !resp.Success {
		return 0, errors.Mark(errors.Newf("leader %d rejected read index", st.LeaderID), ErrUnavailable)
	}
	return resp.ReadIndex, nil
}

// WaitApplied blocks until the local state machine applied index
func (n *Node) WaitApplied(ctx context.Context, index uint64) error {
	n.appliedMu.Lock()
	if n.appliedIdx >= index {
		n.appliedMu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	n.appliedWaiters = append(n.appliedWaiters, appliedWaiter{index: index, ch: ch})
	n.appliedMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		n.dropAppliedWaiter(ch)
		return ctxErr(ctx)
	case <-n.doneC:
		n.dropAppliedWaiter(ch)
		return n.stoppedErr()
	}
}

func (n *Node) dropAppliedWaiter(ch chan struct{}) {
	n.appliedMu.Lock()
	defer n.appliedMu.Unlock()
	for i, w := range n.appliedWaiters {
		if w.ch == ch {
			n.appliedWaiters = append(n.appliedWaiters[:i], n.appliedWaiters[i+1:]...)
			return
		}
	}
}

// AddNode adds a node to the cluster. The node is replicated to until it caught up,
// then the membership is changed in two steps (joint, final). The call returns once
// the final membership is committed.
func (n *Node) AddNode(ctx context.Context, id uint64, addr string) error {
	if id == 0 || addr == "" {
		return errors.Newf("invalid node %d at %q", id, addr)
	}
	return n.changeMembership(ctx, confRequest{add: true, id: id, addr: addr})
}

// RemoveNode removes a node from the cluster (see AddNode)
func (n *Node) RemoveNode(ctx context.Context, id uint64) error {
	return n.changeMembership(ctx, confRequest{id: id})
}

func (n *Node) changeMembership(ctx context.Context, req confRequest) error {
	ev := &event{kind: evConfChange, conf: req, confC: make(chan error, 1)}
	if err := n.push(ev); err != nil {
		return err
	}
	select {
	case err := <-ev.confC:
		return err
	case <-ctx.Done():
		return ctxErr(ctx)
	case <-n.doneC:
		return n.stoppedErr()
	}
}

// --------------------------------------------------------------------------
// Event loop
// --------------------------------------------------------------------------

func (n *Node) run() {
	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()
	defer n.shutdown()

	for {
		var err error
		select {
		case ev, ok := <-n.inbox.Recv():
			if !ok {
				return
			}
			err = n.handle(ev)
		case now := <-ticker.C:
			err = n.tick(now)
		case <-n.stopper.ShouldStop():
			return
		}
		if err != nil {
			n.fail(err)
			return
		}
		n.publishStatus()
	}
}

func (n *Node) handle(ev *event) error {
	switch ev.kind {
	case evPropose:
		return n.handlePropose(ev)
	case evStep:
		return n.handleStep(ev)
	case evReadIndex:
		return n.handleReadIndex(&readRequest{done: func(index uint64, err error) {
			ev.readC <- readResult{index: index, err: err}
		}})
	case evConfChange:
		return n.handleConfChange(ev)
	case evPeerResp:
		return n.handlePeerResp(ev)
	case evSnapshotReady:
		return n.handleSnapshotReady(ev)
	default:
		panic(errors.AssertionFailedf("unknown event kind %d", ev.kind))
	}
}

func (n *Node) tick(now time.Time) error {
	if n.state == StateLeader {
		if !now.Before(n.heartbeatDeadline) {
			n.heartbeatDeadline = now.Add(n.cfg.HeartbeatInterval)
			if err := n.broadcastAppend(); err != nil {
				return err
			}
		}
		if !now.Before(n.quorumDeadline) {
			n.quorumDeadline = now.Add(n.cfg.ElectionTimeoutMax)
			if !n.quorumActive(now) {
				log.Warningf("node %d: lost contact to a quorum, stepping down in term %d", n.id, n.term)
				return n.becomeFollower(n.term, 0)
			}
		}
		n.checkJoinTimeout(now)
		return nil
	}

	if now.Before(n.electionDeadline) {
		return nil
	}
	if !n.membership().IsVoter(n.id) {
		// learners and removed nodes never start elections
		n.resetElectionDeadline(now)
		return nil
	}
	return n.campaign(now)
}

func (n *Node) handleStep(ev *event) error {
	m := ev.msg
	if m.To != n.id {
		ev.stepC <- stepResult{err: errors.Newf("message for node %d delivered to node %d", m.To, n.id)}
		return nil
	}

	var (
		resp raftpb.Message
		err  error
	)
	switch m.Type {
	case raftpb.MsgVote:
		resp, err = n.handleVote(m)
	case raftpb.MsgApp:
		resp, err = n.handleAppend(m)
	case raftpb.MsgSnap:
		resp, err = n.handleSnapshot(m)
	case raftpb.MsgReadIndex:
		return n.handleReadIndex(&readRequest{done: func(index uint64, err error) {
			ev.stepC <- stepResult{msg: raftpb.Message{
				Type:      raftpb.MsgReadIndexResp,
				Term:      n.term,
				From:      n.id,
				To:        m.From,
				Success:   err == nil,
				ReadIndex: index,
				LeaderID:  n.leaderID,
			}}
		}})
	default:
		ev.stepC <- stepResult{err: errors.Newf("unexpected message %s", m.Type)}
		return nil
	}

	if err != nil {
		ev.stepC <- stepResult{err: ErrUnavailable}
		return err
	}
	ev.stepC <- stepResult{msg: resp}
	return nil
}

func (n *Node) handlePropose(ev *event) error {
	if n.state != StateLeader {
		ev.proposeC <- proposeResult{err: n.notLeader()}
		return nil
	}

	index, err := n.appendLocal(raftpb.EntryClientWrite, ev.data)
	if err != nil {
		ev.proposeC <- proposeResult{err: ErrUnavailable}
		return err
	}

	done := make(chan ApplyResult, 1)
	n.proposals[index] = &proposal{term: n.term, done: done}
	n.metrics.proposals.Inc()
	ev.proposeC <- proposeResult{index: index, done: done}

	return n.replicate()
}

func (n *Node) handlePeerResp(ev *event) error {
	req, m := ev.req, ev.msg
	if ev.err != nil {
		log.Debugf("node %d: %s to %d failed: %v", n.id, req.Type, req.To, ev.err)
		if n.state == StateLeader && req.Term == n.term && (req.Type == raftpb.MsgApp || req.Type == raftpb.MsgSnap) {
			if pr := n.progress[req.To]; pr != nil {
				pr.inflight = false
			}
		}
		return nil
	}

	if m.Term > n.term {
		return n.becomeFollower(m.Term, 0)
	}

	switch m.Type {
	case raftpb.MsgVoteResp:
		return n.handleVoteResp(req, m)
	case raftpb.MsgAppResp:
		return n.handleAppendResp(req, m)
	case raftpb.MsgSnapResp:
		return n.handleSnapshotResp(req, m)
	default:
		log.Warningf("node %d: unexpected response %s from %d", n.id, m.Type, m.From)
		return nil
	}
}

// send runs an RPC on a worker goroutine and feeds the response back into the inbox.
// It returns false if the address of the peer is unknown.
func (n *Node) send(to uint64, msg raftpb.Message) bool {
	addr, ok := n.peerAddr(to)
	if !ok {
		log.Warningf("node %d: no address for peer %d", n.id, to)
		return false
	}

	n.stopper.RunWorker(func() {
		ctx, cancel := context.WithTimeout(n.ctx, n.cfg.RPCTimeout)
		defer cancel()
		resp, err := n.transport.Send(ctx, to, addr, msg)
		n.inbox.Push(&event{kind: evPeerResp, req: msg, msg: resp, err: err})
	})
	return true
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func (n *Node) persistHardState() error {
	return n.logs.SetHardState(raftpb.HardState{Term: n.term, VotedFor: n.votedFor})
}

// appendLocal appends a single entry of the current term to the local log
func (n *Node) appendLocal(typ raftpb.EntryType, data []byte) (uint64, error) {
	ent := raftpb.Entry{Index: n.logs.LastIndex() + 1, Term: n.term, Type: typ, Data: data}
	if err := n.logs.Append([]raftpb.Entry{ent}); err != nil {
		return 0, err
	}
	if typ == raftpb.EntryConfigChange {
		n.trackConfigs([]raftpb.Entry{ent})
	}
	return ent.Index, nil
}

func (n *Node) peerAddr(id uint64) (string, bool) {
	if n.learner != nil && n.learner.id == id {
		return n.learner.addr, true
	}
	return n.membership().Addr(id)
}

func (n *Node) leaderAddr() string {
	if n.leaderID == 0 {
		return ""
	}
	if n.leaderID == n.id {
		return n.cfg.Addr
	}
	addr, _ := n.membership().Addr(n.leaderID)
	return addr
}

func (n *Node) notLeader() error {
	return newNotLeaderError(n.leaderID, n.leaderAddr())
}

func (n *Node) notifyApplied(index uint64) {
	n.appliedMu.Lock()
	defer n.appliedMu.Unlock()

	n.appliedIdx = index
	remaining := n.appliedWaiters[:0]
	for _, w := range n.appliedWaiters {
		if w.index <= index {
			close(w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	n.appliedWaiters = remaining
}

func (n *Node) publishStatus() {
	n.status.Store(&Status{
		ID:            n.id,
		Addr:          n.cfg.Addr,
		State:         n.state,
		Term:          n.term,
		LeaderID:      n.leaderID,
		LeaderAddr:    n.leaderAddr(),
		CommitIndex:   n.commitIndex,
		AppliedIndex:  n.appliedIndex,
		LastIndex:     n.logs.LastIndex(),
		SnapshotIndex: n.logs.SnapshotMeta().Index,
		Membership:    n.confView,
	})
}

// fail stops the node after a durability failure
func (n *Node) fail(err error) {
	log.Errorf("node %d: fatal error, leaving the cluster: %v", n.id, err)
	n.errMu.Lock()
	n.fatalErr = err
	n.errMu.Unlock()
}

// shutdown fails all waiters and closes the inbox
func (n *Node) shutdown() {
	err := n.stoppedErr()

	for index, p := range n.proposals {
		p.done <- ApplyResult{Index: index, Err: err}
	}
	n.proposals = map[uint64]*proposal{}
	n.failLeaderRequests(err)

	n.inbox.Close()
	go func() {
		for range n.inbox.Recv() {
		}
	}()

	n.state = StateFollower
	n.publishStatus()
	close(n.doneC)
}
