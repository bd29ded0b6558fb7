package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/serializer"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("rpc")

// maxRedirects bounds how often a single request follows a leader hint
const maxRedirects = 5

// rpcClientAdapter stores all data needed by an RPC client. Used by the RPC
// store, lock manager and cluster clients with composition pattern.
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer

	// address of the last known leader, nil if unknown
	leader atomic.Pointer[string]
}

// newRPCClientAdapter connects the transport to the configured endpoints
func newRPCClientAdapter(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*rpcClientAdapter, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &rpcClientAdapter{
		config:     config,
		transport:  transport,
		serializer: serializer,
	}, nil
}

// invokeRPCRequest sends a request to a service and returns the response.
// Writes (followLeader) are sent to the last known leader and follow
// RetCNotLeader hints, every other request goes to the configured endpoints.
// An error carried by the response is returned as error, usually a *store.Error.
func (a *rpcClientAdapter) invokeRPCRequest(serviceID uint64, req *common.Message, followLeader bool) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	for redirects := 0; ; redirects++ {
		var endpoint string
		if followLeader {
			if leader := a.leader.Load(); leader != nil {
				endpoint = *leader
			}
		}

		var respBytes []byte
		if endpoint == "" {
			respBytes, err = a.transport.Send(serviceID, reqBytes)
		} else {
			respBytes, err = a.transport.SendTo(endpoint, serviceID, reqBytes)
		}
		if err != nil {
			// the leader may be gone, fall back to the configured endpoints
			if endpoint != "" && redirects < maxRedirects {
				log.Debugf("leader %s unreachable: %v", endpoint, err)
				a.leader.Store(nil)
				continue
			}
			return nil, err
		}

		resp := &common.Message{}
		if err := a.serializer.Deserialize(respBytes, resp); err != nil {
			return nil, errors.Wrap(err, "RPC client - invalid response")
		}

		if err := resp.Error(); err != nil {
			hint := resp.Leader
			if followLeader && store.CodeOf(err) == store.RetCNotLeader && hint != "" && hint != endpoint && redirects < maxRedirects {
				log.Debugf("request %s redirected to leader %s", req.MsgType, hint)
				a.leader.Store(&hint)
				continue
			}
			return nil, err
		}

		if resp.MsgType != req.MsgType {
			return nil, errors.Newf("RPC client - unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
		}
		return resp, nil
	}
}

func negativeTTLError(ttl time.Duration) error {
	return store.NewError(store.RetCInvalidOperation, fmt.Sprintf("negative ttl %s", ttl))
}
