package server

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft"
	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/ValentinKolb/dMeta/rpc/common"
)

// NewRaftServerAdapter creates the adapter that delivers messages of other nodes
// to the local raft node. A message that is not answered within timeout fails.
func NewRaftServerAdapter(node *raft.Node, timeout time.Duration) IRPCServerAdapter {
	return &raftServerAdapter{node: node, timeout: timeout}
}

type raftServerAdapter struct {
	node    *raft.Node
	timeout time.Duration
}

func (adapter *raftServerAdapter) Handle(req *common.Message) *common.Message {
	if req.MsgType != common.MsgTRaft {
		return common.NewErrorResponse(fmt.Sprintf("RPC RaftAdapter - Unsupported message type: %s", req.MsgType))
	}

	msg, err := raftpb.DecodeMessage(req.Meta)
	if err != nil {
		return common.NewErrorResponse(fmt.Sprintf("RPC RaftAdapter - invalid message: %v", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), adapter.timeout)
	defer cancel()

	resp, err := adapter.node.Step(ctx, msg)
	if err != nil {
		return common.NewMetaResponse(req.MsgType, nil, err)
	}
	return common.NewMetaResponse(req.MsgType, raftpb.EncodeMessage(resp), nil)
}
