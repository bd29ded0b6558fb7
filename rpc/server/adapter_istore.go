package server

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/common"
)

// NewIStoreServerAdapter creates the adapter of the store service
func NewIStoreServerAdapter(store store.IStore) IRPCServerAdapter {
	return &iStoreServerAdapterImpl{store: store}
}

type iStoreServerAdapterImpl struct {
	store store.IStore
}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message) *common.Message {
	if adapter.store == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	switch req.MsgType {
	case common.MsgTKVPut:
		version, err := adapter.store.Put(req.Key, req.Value)
		return common.NewVersionResponse(req.MsgType, version, err)
	case common.MsgTKVPutE:
		version, err := adapter.store.PutE(req.Key, req.Value, req.TTLDuration())
		return common.NewVersionResponse(req.MsgType, version, err)
	case common.MsgTKVCompareAndSwap:
		version, err := adapter.store.CompareAndSwap(req.Key, req.Version, req.Value)
		return common.NewVersionResponse(req.MsgType, version, err)
	case common.MsgTKVCompareAndSwapE:
		version, err := adapter.store.CompareAndSwapE(req.Key, req.Version, req.Value, req.TTLDuration())
		return common.NewVersionResponse(req.MsgType, version, err)
	case common.MsgTKVDelete:
		existed, err := adapter.store.Delete(req.Key)
		return common.NewOkResponse(req.MsgType, existed, err)
	case common.MsgTKVCompareAndDelete:
		err := adapter.store.CompareAndDelete(req.Key, req.Version)
		return common.NewOkResponse(req.MsgType, err == nil, err)
	case common.MsgTKVGet:
		mode := store.ReadLinearizable
		if req.Stale {
			mode = store.ReadStale
		}
		value, version, ok, err := adapter.store.Get(req.Key, mode)
		return common.NewGetResponse(value, version, ok, err)
	case common.MsgTKVDBInfo:
		info, err := adapter.store.GetDBInfo()
		if err != nil {
			return common.NewMetaResponse(req.MsgType, nil, err)
		}
		meta, err := json.Marshal(info)
		return common.NewMetaResponse(req.MsgType, meta, err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsupported message type: %s", req.MsgType),
		)
	}
}
