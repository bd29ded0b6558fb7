package raft

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotLeader is returned for operations that only the leader can serve.
	// The returned error is a *NotLeaderError carrying the known leader.
	ErrNotLeader = errors.New("node is not the leader")
	// ErrUnavailable is returned when an operation could not be completed right now,
	// e.g. because there is no leader, a timeout occurred or a proposal was dropped.
	// The outcome of a write that failed with ErrUnavailable is unknown.
	ErrUnavailable = errors.New("cluster unavailable")
	// ErrStopped is returned after the node was stopped
	ErrStopped = errors.New("node stopped")

	// ErrMembershipChangePending is returned when a membership change is requested
	// while another one is in progress
	ErrMembershipChangePending = errors.Mark(errors.New("membership change pending"), ErrUnavailable)
	// ErrProposalDropped is returned when a proposed entry was replaced by an entry
	// of another leader
	ErrProposalDropped = errors.Mark(errors.New("proposal dropped"), ErrUnavailable)
)

// NotLeaderError carries the leader known to the node that rejected a request.
// LeaderID is 0 if no leader is known.
type NotLeaderError struct {
	LeaderID   uint64
	LeaderAddr string
}

func (e *NotLeaderError) Error() string {
	if e.LeaderID == 0 {
		return "node is not the leader, leader unknown"
	}
	return fmt.Sprintf("node is not the leader, leader is %d at %s", e.LeaderID, e.LeaderAddr)
}

func (e *NotLeaderError) Is(target error) bool {
	return target == ErrNotLeader
}

func newNotLeaderError(leaderID uint64, leaderAddr string) error {
	return errors.Mark(&NotLeaderError{LeaderID: leaderID, LeaderAddr: leaderAddr}, ErrNotLeader)
}

// LeaderHint extracts the leader address from an ErrNotLeader error
func LeaderHint(err error) (string, bool) {
	var nle *NotLeaderError
	if errors.As(err, &nle) && nle.LeaderAddr != "" {
		return nle.LeaderAddr, true
	}
	return "", false
}
