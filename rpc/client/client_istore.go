package client

import (
	"encoding/json"
	"time"

	"github.com/ValentinKolb/dMeta/lib/db"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/serializer"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/cockroachdb/errors"
)

// NewRPCStore creates a store.IStore that talks to a dMeta cluster.
// Writes are routed to the leader, reads are spread over the configured endpoints.
func NewRPCStore(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {
	adapter, err := newRPCClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &rpcStore{adapter}, nil
}

type rpcStore struct {
	*rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcStore) Put(key string, value []byte) (uint64, error) {
	resp, err := s.invokeRPCRequest(common.ServiceStore, common.NewPutRequest(key, value), true)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (s *rpcStore) PutE(key string, value []byte, ttl time.Duration) (uint64, error) {
	if ttl < 0 {
		return 0, negativeTTLError(ttl)
	}
	resp, err := s.invokeRPCRequest(common.ServiceStore, common.NewPutERequest(key, value, ttl), true)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (s *rpcStore) CompareAndSwap(key string, expected uint64, value []byte) (uint64, error) {
	resp, err := s.invokeRPCRequest(common.ServiceStore, common.NewCompareAndSwapRequest(key, expected, value), true)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (s *rpcStore) CompareAndSwapE(key string, expected uint64, value []byte, ttl time.Duration) (uint64, error) {
	if ttl < 0 {
		return 0, negativeTTLError(ttl)
	}
	resp, err := s.invokeRPCRequest(common.ServiceStore, common.NewCompareAndSwapERequest(key, expected, value, ttl), true)
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (s *rpcStore) Delete(key string) (bool, error) {
	resp, err := s.invokeRPCRequest(common.ServiceStore, common.NewDeleteRequest(key), true)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (s *rpcStore) CompareAndDelete(key string, expected uint64) error {
	_, err := s.invokeRPCRequest(common.ServiceStore, common.NewCompareAndDeleteRequest(key, expected), true)
	return err
}

func (s *rpcStore) Get(key string, mode store.ReadMode) ([]byte, uint64, bool, error) {
	resp, err := s.invokeRPCRequest(common.ServiceStore, common.NewGetRequest(key, mode), false)
	if err != nil {
		return nil, 0, false, err
	}
	return resp.Value, resp.Version, resp.Ok, nil
}

func (s *rpcStore) GetDBInfo() (db.DatabaseInfo, error) {
	var info db.DatabaseInfo
	resp, err := s.invokeRPCRequest(common.ServiceStore, common.NewDBInfoRequest(), false)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(resp.Meta, &info); err != nil {
		return info, errors.Wrap(err, "decode db info")
	}
	return info, nil
}
