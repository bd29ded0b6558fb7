package server

import (
	"time"

	"github.com/ValentinKolb/dMeta/rpc/client"
	"github.com/ValentinKolb/dMeta/rpc/common"
)

const joinRetryInterval = time.Second

// joinCluster asks the cluster behind the join endpoints to add this node until
// the node is a voter or the server is closed
func (s *RPCServer) joinCluster() {
	raftConfig := s.config.ToRaftConfig()
	config := common.ClientConfig{
		Endpoints:              s.config.Join,
		Timeout:                raftConfig.JoinTimeout + raftConfig.RPCTimeout,
		RetryCount:             1,
		ConnectionsPerEndpoint: 1,
		Transport:              s.config.Transport,
	}

	t := s.newClientTransport()
	defer t.Close()

	for attempt := 1; ; attempt++ {
		if s.node.Status().Membership.IsVoter(s.node.ID()) {
			log.Infof("node %d is a member of the cluster", s.node.ID())
			return
		}

		cluster, err := client.NewRPCCluster(config, t, s.serializer)
		if err == nil {
			err = cluster.Join(s.node.ID(), s.config.RaftAddr())
		}
		if err == nil {
			log.Infof("node %d joined the cluster via %v", s.node.ID(), s.config.Join)
			return
		}
		log.Warningf("join attempt %d failed: %v", attempt, err)

		select {
		case <-s.stopper.ShouldStop():
			return
		case <-time.After(joinRetryInterval):
		}
	}
}
