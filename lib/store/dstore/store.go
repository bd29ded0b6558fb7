package dstore

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMeta/lib/db"
	"github.com/ValentinKolb/dMeta/lib/raft"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/lib/store/dstore/internal"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// storeImpl is the replicated implementation of store.IStore.
// It proposes commands to the local raft node and reads from the local state machine.
type storeImpl struct {
	node    *raft.Node
	fsm     *KVStateMachine
	timeout time.Duration
}

// NewDistributedStore creates a store on a running node. fsm must be the state machine
// of the node. timeout bounds every single operation.
func NewDistributedStore(node *raft.Node, fsm *KVStateMachine, timeout time.Duration) store.IStore {
	return &storeImpl{
		node:    node,
		fsm:     fsm,
		timeout: timeout,
	}
}

// toStoreError maps an error of the raft node to the error a client sees
func toStoreError(err error) *store.Error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, raft.ErrNotLeader):
		leader, _ := raft.LeaderHint(err)
		return store.NewNotLeaderError(leader)
	case errors.Is(err, raft.ErrUnavailable), errors.Is(err, raft.ErrStopped):
		return store.NewError(store.RetCUnavailable, err.Error())
	default:
		return store.NewError(store.RetCInternalError, err.Error())
	}
}

func ttlMillis(ttl time.Duration) (uint64, error) {
	if ttl < 0 {
		return 0, store.NewError(store.RetCInvalidOperation, fmt.Sprintf("negative ttl %s", ttl))
	}
	if ttl > 0 && ttl < time.Millisecond {
		return 1, nil
	}
	return uint64(ttl.Milliseconds()), nil
}

// --------------------------------------------------------------------------
// Internal write and read operations (used by interface methods)
// --------------------------------------------------------------------------

// write stamps the command with the current time, proposes it and waits until it is applied.
// It returns the result data of the state machine, also on a version mismatch.
func (s *storeImpl) write(cmd internal.Command) (internal.ResultData, error) {
	cmd.Timestamp = uint64(time.Now().UnixMilli())

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, done, err := s.node.Propose(ctx, cmd.Serialize())
	if err != nil {
		return internal.ResultData{}, toStoreError(err)
	}

	select {
	case res := <-done:
		if res.Err != nil {
			return internal.ResultData{}, toStoreError(res.Err)
		}
		code := store.RetCode(res.Result.Value)
		if code != store.RetCSuccess && code != store.RetCVersionMismatch {
			return internal.ResultData{}, store.NewError(code, string(res.Result.Data))
		}

		data, err := internal.DecodeResultData(res.Result.Data)
		if err != nil {
			return internal.ResultData{}, store.NewError(store.RetCInternalError, err.Error())
		}
		if code == store.RetCVersionMismatch {
			return data, store.NewError(code, fmt.Sprintf("%s: version mismatch for key %q (current version %d, expected %d)", cmd.Type, cmd.Key, data.Version, cmd.Expected))
		}
		return data, nil

	case <-ctx.Done():
		log.Warningf("%s of key %q not applied within %s", cmd.Type, cmd.Key, s.timeout)
		return internal.ResultData{}, store.NewError(store.RetCUnavailable, "timeout waiting for the write to be applied")
	}
}

// sync waits until the local state machine reflects every write that completed before
// the call (read index of the leader)
func (s *storeImpl) sync() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	idx, err := s.node.ReadIndex(ctx)
	if err != nil {
		return toStoreError(err)
	}
	if err := s.node.WaitApplied(ctx, idx); err != nil {
		return toStoreError(err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Put(key string, value []byte) (uint64, error) {
	res, err := s.write(internal.Command{
		Type:  internal.CommandTPut,
		Key:   key,
		Value: value,
	})
	return res.Version, err
}

func (s *storeImpl) PutE(key string, value []byte, ttl time.Duration) (uint64, error) {
	ms, err := ttlMillis(ttl)
	if err != nil {
		return 0, err
	}
	res, err := s.write(internal.Command{
		Type:  internal.CommandTPutE,
		Key:   key,
		TTL:   ms,
		Value: value,
	})
	return res.Version, err
}

func (s *storeImpl) CompareAndSwap(key string, expected uint64, value []byte) (uint64, error) {
	res, err := s.write(internal.Command{
		Type:     internal.CommandTCompareAndSwap,
		Key:      key,
		Expected: expected,
		Value:    value,
	})
	if err != nil {
		return 0, err
	}
	return res.Version, nil
}

func (s *storeImpl) CompareAndSwapE(key string, expected uint64, value []byte, ttl time.Duration) (uint64, error) {
	ms, err := ttlMillis(ttl)
	if err != nil {
		return 0, err
	}
	res, err := s.write(internal.Command{
		Type:     internal.CommandTCompareAndSwapE,
		Key:      key,
		Expected: expected,
		TTL:      ms,
		Value:    value,
	})
	if err != nil {
		return 0, err
	}
	return res.Version, nil
}

func (s *storeImpl) Delete(key string) (bool, error) {
	res, err := s.write(internal.Command{
		Type: internal.CommandTDelete,
		Key:  key,
	})
	return res.Existed, err
}

func (s *storeImpl) CompareAndDelete(key string, expected uint64) error {
	_, err := s.write(internal.Command{
		Type:     internal.CommandTCompareAndDelete,
		Key:      key,
		Expected: expected,
	})
	return err
}

func (s *storeImpl) Get(key string, mode store.ReadMode) ([]byte, uint64, bool, error) {
	if mode == store.ReadLinearizable {
		if err := s.sync(); err != nil {
			return nil, 0, false, err
		}
	}
	rec, ok := s.fsm.Get(key, uint64(time.Now().UnixMilli()))
	if !ok {
		return nil, 0, false, nil
	}
	return rec.Value, rec.Version, true, nil
}

func (s *storeImpl) GetDBInfo() (db.DatabaseInfo, error) {
	// Note: the info is read from the local replica without coordination
	return s.fsm.Info(), nil
}
