package client

import (
	"context"

	"github.com/ValentinKolb/dMeta/lib/raft"
	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/serializer"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/cockroachdb/errors"
)

// NewRaftTransport creates the raft.Transport of a node. Messages are sent to the
// raft service of the peer at its address, the transport must be connected.
func NewRaftTransport(transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) raft.Transport {
	return &raftTransport{transport: transport, serializer: serializer}
}

type raftTransport struct {
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

func (t *raftTransport) Send(ctx context.Context, to uint64, addr string, msg raftpb.Message) (raftpb.Message, error) {
	if err := ctx.Err(); err != nil {
		return raftpb.Message{}, err
	}

	reqBytes, err := t.serializer.Serialize(*common.NewRaftRequest(raftpb.EncodeMessage(msg)))
	if err != nil {
		return raftpb.Message{}, err
	}

	// the transport has its own timeout, a stopping node must not wait for it
	type result struct {
		data []byte
		err  error
	}
	resC := make(chan result, 1)
	go func() {
		data, err := t.transport.SendTo(addr, common.ServiceRaft, reqBytes)
		resC <- result{data: data, err: err}
	}()

	var respBytes []byte
	select {
	case res := <-resC:
		if res.err != nil {
			return raftpb.Message{}, errors.Wrapf(res.err, "send %s to node %d at %s", msg.Type, to, addr)
		}
		respBytes = res.data
	case <-ctx.Done():
		return raftpb.Message{}, errors.Wrapf(ctx.Err(), "send %s to node %d at %s", msg.Type, to, addr)
	}

	var resp common.Message
	if err := t.serializer.Deserialize(respBytes, &resp); err != nil {
		return raftpb.Message{}, errors.Wrap(err, "decode raft response")
	}
	if err := resp.Error(); err != nil {
		return raftpb.Message{}, err
	}
	return raftpb.DecodeMessage(resp.Meta)
}
