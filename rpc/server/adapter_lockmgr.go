package server

import (
	"fmt"

	"github.com/ValentinKolb/dMeta/lib/lockmgr"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/common"
)

// NewLockManagerServerAdapter creates the adapter of the lock service. The locks
// are stored in the given store.
func NewLockManagerServerAdapter(store store.IStore) IRPCServerAdapter {
	return &lockMgrServerAdapter{locks: lockmgr.NewLockManager(store)}
}

type lockMgrServerAdapter struct {
	locks lockmgr.ILockManager
}

func (adapter *lockMgrServerAdapter) Handle(req *common.Message) (resp *common.Message) {
	switch req.MsgType {
	case common.MsgTLCKAcquire:
		ok, ownerID, err := adapter.locks.AcquireLock(req.Key, req.TTLDuration())
		return common.NewAcquireResponse(ok, ownerID, err)
	case common.MsgTLCKRelease:
		ok, err := adapter.locks.ReleaseLock(req.Key, req.Value)
		return common.NewOkResponse(req.MsgType, ok, err)
	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC LockManagerAdapter - Unsupported message type: %s", req.MsgType))
	}
}
