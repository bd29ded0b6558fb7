package dstore

import (
	"context"
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/cockroachdb/errors"
)

type clusterImpl struct {
	node    *raft.Node
	fsm     *KVStateMachine
	timeout time.Duration
}

// NewCluster creates the membership interface of a running node. timeout bounds a
// join, which includes the time the new node needs to catch up.
func NewCluster(node *raft.Node, fsm *KVStateMachine, timeout time.Duration) store.ICluster {
	return &clusterImpl{node: node, fsm: fsm, timeout: timeout}
}

func (c *clusterImpl) membershipError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrUnavailable) || errors.Is(err, raft.ErrStopped) {
		return toStoreError(err)
	}
	return store.NewError(store.RetCInvalidOperation, err.Error())
}

func (c *clusterImpl) Join(id uint64, addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	log.Infof("node %d at %s requested to join", id, addr)
	return c.membershipError(c.node.AddNode(ctx, id, addr))
}

func (c *clusterImpl) Leave(id uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	log.Infof("removing node %d", id)
	return c.membershipError(c.node.RemoveNode(ctx, id))
}

func (c *clusterImpl) Status() (store.ClusterStatus, error) {
	return store.ClusterStatus{
		Node: c.node.Status(),
		DB:   c.fsm.Info(),
	}, nil
}
