package dstore

import (
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/dMeta/lib/db"
	"github.com/ValentinKolb/dMeta/lib/raft"
	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/lib/store/dstore/internal"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine applies committed commands to a db.KVDB. It implements raft.StateMachine.
//
// Apply only depends on the entry and the current state: the logical clock is the
// timestamp the leader put into the command, never the local clock.
type KVStateMachine struct {
	database db.KVDB // the actual dataStorage
}

// NewStateMachine creates a state machine on a new database created by dbFactory
func NewStateMachine(dbFactory store.DBFactory) *KVStateMachine {
	return &KVStateMachine{database: dbFactory()}
}

func result(code store.RetCode, data []byte) raft.Result {
	return raft.Result{Value: uint64(code), Data: data}
}

func failure(code store.RetCode, format string, args ...any) raft.Result {
	return result(code, []byte(fmt.Sprintf(format, args...)))
}

// Apply executes a single committed command
func (fsm *KVStateMachine) Apply(e raftpb.Entry) raft.Result {
	// entries already contained in the state (replay after restart) are skipped
	if e.Index <= fsm.database.WriteIdx() {
		return result(store.RetCSuccess, nil)
	}

	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > time.Millisecond {
			log.Infof("Statemachine took long to apply entry %d, took %.2fms", e.Index, float64(elapsed)/float64(time.Millisecond))
		}
	}()

	if len(e.Data) == 0 {
		fsm.database.SetWriteIdx(e.Index)
		return failure(store.RetCInvalidOperation, "empty command ignored")
	}

	cmd := internal.Command{}
	if err := cmd.Deserialize(e.Data); err != nil {
		fsm.database.SetWriteIdx(e.Index)
		return failure(store.RetCInvalidOperation, "failed to deserialize command: %v", err)
	}

	// Check if the db supports the operation
	feat, err := cmd.Type.ToDBFeature()
	if err != nil {
		fsm.database.SetWriteIdx(e.Index)
		return failure(store.RetCInvalidOperation, "unknown Command operation: %s", cmd.Type)
	}
	if !fsm.database.SupportsFeature(feat) {
		fsm.database.SetWriteIdx(e.Index)
		return failure(store.RetCUnsupportedOperation, "%s operation is not supported", cmd.Type)
	}

	// the clock never goes backwards, even if the leader changes
	now := max(fsm.database.Clock(), cmd.Timestamp)
	if fsm.database.SupportsFeature(db.FeatureGarbageCollect) {
		fsm.database.GarbageCollect(now)
	}

	switch cmd.Type {
	case internal.CommandTPut, internal.CommandTPutE:
		rec := fsm.database.Put(cmd.Key, cmd.Value, cmd.ExpireAt(), e.Index, now)
		return result(store.RetCSuccess, internal.ResultData{Version: rec.Version, Existed: rec.Version > 1}.Encode())

	case internal.CommandTCompareAndSwap, internal.CommandTCompareAndSwapE:
		rec, ok := fsm.database.CompareAndSwap(cmd.Key, cmd.Expected, cmd.Value, cmd.ExpireAt(), e.Index, now)
		if !ok {
			return result(store.RetCVersionMismatch, internal.ResultData{Version: rec.Version, Existed: rec.Version > 0}.Encode())
		}
		return result(store.RetCSuccess, internal.ResultData{Version: rec.Version, Existed: rec.Version > 1}.Encode())

	case internal.CommandTDelete:
		existed := fsm.database.Delete(cmd.Key, e.Index, now)
		return result(store.RetCSuccess, internal.ResultData{Existed: existed}.Encode())

	case internal.CommandTCompareAndDelete:
		rec, ok := fsm.database.CompareAndDelete(cmd.Key, cmd.Expected, e.Index, now)
		if !ok {
			return result(store.RetCVersionMismatch, internal.ResultData{Version: rec.Version, Existed: rec.Version > 0}.Encode())
		}
		return result(store.RetCSuccess, internal.ResultData{Version: rec.Version, Existed: true}.Encode())

	default:
		fsm.database.SetWriteIdx(e.Index)
		return failure(store.RetCInvalidOperation, "unknown Command operation: %s", cmd.Type)
	}
}

// Get reads a record of the local replica. The caller decides how fresh the replica
// has to be (see storeImpl.Get). Safe to call concurrently with Apply.
func (fsm *KVStateMachine) Get(key string, now uint64) (db.Record, bool) {
	return fsm.database.Get(key, max(now, fsm.database.Clock()))
}

// Info returns information about the underlying database
func (fsm *KVStateMachine) Info() db.DatabaseInfo {
	return fsm.database.GetInfo()
}

// AppliedIndex returns the index of the last applied command
func (fsm *KVStateMachine) AppliedIndex() uint64 {
	return fsm.database.WriteIdx()
}

// Snapshot writes a deterministic image of the database
func (fsm *KVStateMachine) Snapshot(w io.Writer) error {
	if !fsm.database.SupportsFeature(db.FeatureSave) {
		return errors.New("the used KVDB implementation does not support Save() operations")
	}
	return fsm.database.Save(w)
}

// Restore replaces the database state with an image written by Snapshot
func (fsm *KVStateMachine) Restore(r io.Reader) error {
	if !fsm.database.SupportsFeature(db.FeatureLoad) {
		return errors.New("the used KVDB implementation does not support Load() operations")
	}
	return fsm.database.Load(r)
}

// Close performs any necessary cleanup.
func (fsm *KVStateMachine) Close() error {
	return fsm.database.Close()
}
