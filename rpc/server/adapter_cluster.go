package server

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/common"
)

// NewClusterServerAdapter creates the adapter of the membership service
func NewClusterServerAdapter(cluster store.ICluster) IRPCServerAdapter {
	return &clusterServerAdapter{cluster: cluster}
}

type clusterServerAdapter struct {
	cluster store.ICluster
}

func (adapter *clusterServerAdapter) Handle(req *common.Message) *common.Message {
	switch req.MsgType {
	case common.MsgTCLJoin:
		if req.NodeID == 0 || req.Addr == "" {
			return common.NewErrorResponse("join requires a node id and an address")
		}
		err := adapter.cluster.Join(req.NodeID, req.Addr)
		return common.NewOkResponse(req.MsgType, err == nil, err)
	case common.MsgTCLLeave:
		if req.NodeID == 0 {
			return common.NewErrorResponse("leave requires a node id")
		}
		err := adapter.cluster.Leave(req.NodeID)
		return common.NewOkResponse(req.MsgType, err == nil, err)
	case common.MsgTCLStatus:
		status, err := adapter.cluster.Status()
		if err != nil {
			return common.NewMetaResponse(req.MsgType, nil, err)
		}
		meta, err := json.Marshal(status)
		return common.NewMetaResponse(req.MsgType, meta, err)
	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC ClusterAdapter - Unsupported message type: %s", req.MsgType))
	}
}
