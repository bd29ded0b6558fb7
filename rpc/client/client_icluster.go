package client

import (
	"encoding/json"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/serializer"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/cockroachdb/errors"
)

// NewRPCCluster creates a store.ICluster that manages the membership of a dMeta
// cluster. Status reports the node behind the first reachable endpoint.
func NewRPCCluster(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.ICluster, error) {
	adapter, err := newRPCClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcCluster{adapter}, nil
}

type rpcCluster struct {
	*rpcClientAdapter
}

func (c *rpcCluster) Join(id uint64, addr string) error {
	_, err := c.invokeRPCRequest(common.ServiceCluster, common.NewJoinRequest(id, addr), true)
	return err
}

func (c *rpcCluster) Leave(id uint64) error {
	_, err := c.invokeRPCRequest(common.ServiceCluster, common.NewLeaveRequest(id), true)
	return err
}

func (c *rpcCluster) Status() (store.ClusterStatus, error) {
	var status store.ClusterStatus
	resp, err := c.invokeRPCRequest(common.ServiceCluster, common.NewStatusRequest(), false)
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(resp.Meta, &status); err != nil {
		return status, errors.Wrap(err, "decode cluster status")
	}
	return status, nil
}
