package client

import (
	"time"

	"github.com/ValentinKolb/dMeta/lib/lockmgr"
	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/serializer"
	"github.com/ValentinKolb/dMeta/rpc/transport"
)

// NewRPCLockMgr creates a lockmgr.ILockManager that talks to a dMeta cluster
func NewRPCLockMgr(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (lockmgr.ILockManager, error) {
	adapter, err := newRPCClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcLockMgr{adapter}, nil
}

type rpcLockMgr struct {
	*rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the lockmgr package in interface.go)
// --------------------------------------------------------------------------

func (l *rpcLockMgr) AcquireLock(key string, ttl time.Duration) (ok bool, ownerID []byte, err error) {
	if ttl < 0 {
		return false, nil, negativeTTLError(ttl)
	}
	resp, err := l.invokeRPCRequest(common.ServiceLock, common.NewAcquireRequest(key, ttl), true)
	if err != nil {
		return false, nil, err
	}
	return resp.Ok, resp.Value, nil
}

func (l *rpcLockMgr) ReleaseLock(key string, ownerID []byte) (ok bool, err error) {
	resp, err := l.invokeRPCRequest(common.ServiceLock, common.NewReleaseRequest(key, ownerID), true)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
