package server

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/dMeta/lib/db"
	"github.com/ValentinKolb/dMeta/lib/db/engines/maple"
	"github.com/ValentinKolb/dMeta/lib/raft"
	"github.com/ValentinKolb/dMeta/lib/raft/logstore"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/ValentinKolb/dMeta/lib/store/dstore"
	"github.com/ValentinKolb/dMeta/rpc/client"
	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/serializer"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/lni/goutils/syncutil"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("rpc")

// ClientTransportFactory creates the client transports a node uses to reach the
// other nodes. It must create the client side of the server transport.
type ClientTransportFactory func() transport.IRPCClientTransport

// NewRPCServer creates a new dMeta node.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPDefaultServerTransport(),
//		tcp.NewTCPClientTransport,
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	clientTransport ClientTransportFactory,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:             config,
		transport:          transport,
		newClientTransport: clientTransport,
		serializer:         serializer,
		services:           xsync.NewMapOf[uint64, IRPCServerAdapter](),
		metrics:            metrics.NewSet(),
		stopper:            syncutil.NewStopper(),
		closeC:             make(chan struct{}),
	}
}

// RPCServer is a single node of a dMeta cluster. It owns the raft node, the
// replicated store and the transport clients and other nodes talk to.
type RPCServer struct {
	config             common.ServerConfig
	transport          transport.IRPCServerTransport
	newClientTransport ClientTransportFactory
	serializer         serializer.IRPCSerializer
	services           *xsync.MapOf[uint64, IRPCServerAdapter]
	metrics            *metrics.Set

	logs    *logstore.PebbleStore
	fsm     *dstore.KVStateMachine
	peers   transport.IRPCClientTransport
	node    *raft.Node
	store   store.IStore
	cluster store.ICluster

	stopper   *syncutil.Stopper // join loop
	closeOnce sync.Once
	closeErr  error
	closeC    chan struct{}
}

// Start initializes the node and starts serving requests, it does not block.
func (s *RPCServer) Start() error {
	common.InitLoggers(s.config)
	log.Infof("Starting dMeta node")
	log.Infof(s.config.String())

	if s.config.DataDir == "" {
		return errors.New("no data directory configured")
	}
	raftConfig := s.config.ToRaftConfig()

	// Raft log and the state machine it drives
	logs, err := logstore.Open(logstore.Options{
		Dir:    filepath.Join(s.config.DataDir, "raft"),
		NoSync: s.config.NoSync,
	})
	if err != nil {
		return errors.Wrap(err, "failed to open raft log")
	}
	s.logs = logs
	s.fsm = dstore.NewStateMachine(func() db.KVDB { return maple.NewMapleDB(nil) })

	// Transport to the other nodes
	s.peers = s.newClientTransport()
	if err := s.peers.Connect(s.config.PeerClientConfig()); err != nil {
		return errors.Wrap(err, "failed to create peer transport")
	}

	s.node, err = raft.NewNode(raftConfig, s.logs, s.fsm, client.NewRaftTransport(s.peers, s.serializer))
	if err != nil {
		return errors.Wrap(err, "failed to create raft node")
	}

	timeout := s.config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s.store = dstore.NewDistributedStore(s.node, s.fsm, timeout)
	s.cluster = dstore.NewCluster(s.node, s.fsm, raftConfig.JoinTimeout)

	s.services.Store(common.ServiceStore, NewIStoreServerAdapter(s.store))
	s.services.Store(common.ServiceLock, NewLockManagerServerAdapter(s.store))
	s.services.Store(common.ServiceCluster, NewClusterServerAdapter(s.cluster))
	s.services.Store(common.ServiceRaft, NewRaftServerAdapter(s.node, raftConfig.RPCTimeout))

	// Configure the transport layer
	s.transport.RegisterHandler(s.handle)
	s.transport.RegisterMetrics(s.writeMetrics)
	if err := s.transport.Listen(s.config); err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.config.Endpoint)
	}

	if err := s.node.Start(); err != nil {
		return errors.Wrap(err, "failed to start raft node")
	}

	if len(s.config.Join) > 0 && s.node.Status().Membership.IsEmpty() {
		s.stopper.RunWorker(s.joinCluster)
	}

	log.Infof("dMeta node %d serving on %s", s.config.NodeID, s.config.Endpoint)
	return nil
}

// Serve starts the node and blocks until it receives SIGINT or SIGTERM, the raft
// node stops with an error or Close is called.
func (s *RPCServer) Serve() error {
	if err := s.Start(); err != nil {
		return multierror.Append(err, s.Close()).ErrorOrNil()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var runErr error
	select {
	case sig := <-signals:
		log.Infof("Received %s, shutting down", sig)
	case <-s.node.Done():
		runErr = s.node.Err()
		if runErr != nil {
			log.Errorf("raft node stopped: %v", runErr)
		}
	case <-s.closeC:
	}
	return multierror.Append(runErr, s.Close()).ErrorOrNil()
}

// Close stops the node and releases all resources, it is safe to call it more than once
func (s *RPCServer) Close() error {
	s.closeOnce.Do(func() {
		close(s.closeC)
		s.stopper.Stop()

		var result *multierror.Error
		if s.node != nil {
			s.node.Stop()
		}
		if err := s.transport.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		if s.peers != nil {
			if err := s.peers.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if s.fsm != nil {
			if err := s.fsm.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		if s.logs != nil {
			if err := s.logs.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		s.closeErr = result.ErrorOrNil()
		log.Infof("dMeta node %d stopped", s.config.NodeID)
	})
	return s.closeErr
}

// Status returns the status of the local node
func (s *RPCServer) Status() (store.ClusterStatus, error) {
	if s.cluster == nil {
		return store.ClusterStatus{}, errors.New("server not started")
	}
	return s.cluster.Status()
}

// handle routes a request to the adapter of its service
func (s *RPCServer) handle(serviceID uint64, req []byte) []byte {
	start := time.Now()

	var msg common.Message
	var resp *common.Message

	adapter, ok := s.services.Load(serviceID)
	if !ok {
		resp = common.NewErrorResponse(fmt.Sprintf("unknown service %d", serviceID))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
	} else {
		resp = adapter.Handle(&msg)
	}
	s.observe(serviceID, msg.MsgType, resp, start)

	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		log.Errorf("failed to serialize response to %s: %v", msg.MsgType, err)
		val, _ = s.serializer.Serialize(common.Message{
			MsgType: common.MsgTError,
			Code:    store.RetCInternalError,
			Err:     fmt.Sprintf("failed to serialize response: %s", err),
		})
	}
	return val
}

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

func serviceName(serviceID uint64) string {
	switch serviceID {
	case common.ServiceStore:
		return "store"
	case common.ServiceLock:
		return "lock"
	case common.ServiceCluster:
		return "cluster"
	case common.ServiceRaft:
		return "raft"
	default:
		return "unknown"
	}
}

func (s *RPCServer) observe(serviceID uint64, t common.MessageType, resp *common.Message, start time.Time) {
	service := serviceName(serviceID)
	s.metrics.GetOrCreateCounter(fmt.Sprintf(`dmeta_rpc_requests_total{service=%q,type=%q}`, service, t)).Inc()
	if resp.Code != store.RetCSuccess {
		s.metrics.GetOrCreateCounter(fmt.Sprintf(`dmeta_rpc_errors_total{service=%q,code=%q}`, service, resp.Code)).Inc()
	}
	s.metrics.GetOrCreateHistogram(fmt.Sprintf(`dmeta_rpc_request_duration_seconds{service=%q}`, service)).UpdateDuration(start)
}

func (s *RPCServer) writeMetrics(w io.Writer) {
	if s.node != nil {
		s.node.WriteMetrics(w)
	}
	s.metrics.WritePrometheus(w)
	metrics.WriteProcessMetrics(w)
}
