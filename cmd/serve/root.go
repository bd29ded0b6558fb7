package serve

import (
	"fmt"
	"time"

	cmdUtil "github.com/ValentinKolb/dMeta/cmd/util"
	"github.com/ValentinKolb/dMeta/rpc/common"
	"github.com/ValentinKolb/dMeta/rpc/server"
	"github.com/ValentinKolb/dMeta/rpc/transport"
	"github.com/ValentinKolb/dMeta/rpc/transport/http"
	"github.com/ValentinKolb/dMeta/rpc/transport/tcp"
	"github.com/ValentinKolb/dMeta/rpc/transport/unix"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start a dMeta node",
		Long: `Start a dMeta node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DMETA_<flag> (e.g. DMETA_NODE_ID=1)

Start a new cluster by starting all initial nodes with the same --peers, add a node to a running cluster with --join. A node without peers and without join endpoints starts a single node cluster.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	flags := ServeCmd.PersistentFlags()

	key := "node-id"
	flags.Uint64(key, 0, cmdUtil.WrapString("Unique id (> 0) of this node in the cluster"))

	key = "endpoint"
	flags.String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the node will listen (e.g. localhost:8080, /tmp/dmeta.sock, ...)"))

	key = "advertise"
	flags.String(key, "", cmdUtil.WrapString("The address other nodes and clients use to reach this node. Defaults to the address of this node in --peers, then to --endpoint"))

	key = "peers"
	flags.String(key, "", cmdUtil.WrapString("Comma-separated list of the initial members of a new cluster in the format 'id=address' (e.g. '1=10.0.0.1:8080,2=10.0.0.2:8080,3=10.0.0.3:8080')"))

	key = "join"
	flags.String(key, "", cmdUtil.WrapString("Comma-separated list of endpoints of a running cluster this node should join"))

	key = "data-dir"
	flags.String(key, "data", cmdUtil.WrapString("DataDir is the directory used for the raft log and snapshots"))

	key = "no-sync"
	flags.Bool(key, false, cmdUtil.WrapString("Do not sync the raft log to disk before acknowledging writes (faster, not crash safe)"))

	key = "election-timeout-min"
	flags.Duration(key, 0, cmdUtil.WrapString("Lower bound of the randomized election timeout (0 = default of 150ms)"))

	key = "election-timeout-max"
	flags.Duration(key, 0, cmdUtil.WrapString("Upper bound of the randomized election timeout (0 = default of 300ms)"))

	key = "heartbeat-interval"
	flags.Duration(key, 0, cmdUtil.WrapString("Interval of the heartbeats of the leader (0 = default of 50ms)"))

	key = "snapshot-entries"
	flags.Uint64(key, 10000, cmdUtil.WrapString("SnapshotEntries defines how often the state machine should be snapshotted automatically, in number of applied raft log entries. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	flags.Uint64(key, 5000, cmdUtil.WrapString("CompactionOverhead defines how many log entries are kept before the snapshot index when the log is compacted, so that slow followers can catch up without a snapshot"))

	key = "timeout"
	flags.Int64(key, 5, cmdUtil.WrapString("Timeout of client requests in seconds"))

	key = "transport-workers-per-conn"
	flags.Int(key, 64, cmdUtil.WrapString("Maximum number of requests processed concurrently per connection (ignored for http)"))

	key = "log-level"
	flags.String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupTransportFlags(flags)
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.NodeID = viper.GetUint64("node-id")
	if serveCmdConfig.NodeID == 0 {
		return fmt.Errorf("--node-id is required and must be > 0")
	}

	peers, err := common.ParsePeers(cmdUtil.SplitList(viper.GetString("peers")))
	if err != nil {
		return err
	}
	if len(peers) > 0 {
		if _, ok := peers[serveCmdConfig.NodeID]; !ok {
			return fmt.Errorf("no address found for node %d in peers", serveCmdConfig.NodeID)
		}
		serveCmdConfig.Peers = peers
	}
	serveCmdConfig.Join = cmdUtil.SplitList(viper.GetString("join"))
	if len(serveCmdConfig.Peers) > 0 && len(serveCmdConfig.Join) > 0 {
		return fmt.Errorf("--peers and --join are mutually exclusive")
	}

	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Advertise = viper.GetString("advertise")
	if serveCmdConfig.Advertise == "" {
		serveCmdConfig.Advertise = serveCmdConfig.Peers[serveCmdConfig.NodeID]
	}

	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.NoSync = viper.GetBool("no-sync")
	serveCmdConfig.ElectionTimeoutMin = viper.GetDuration("election-timeout-min")
	serveCmdConfig.ElectionTimeoutMax = viper.GetDuration("election-timeout-max")
	serveCmdConfig.HeartbeatInterval = viper.GetDuration("heartbeat-interval")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.Timeout = time.Duration(viper.GetInt64("timeout")) * time.Second
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	serveCmdConfig.Transport = cmdUtil.GetTransportConfig()
	serveCmdConfig.Transport.WorkersPerConn = viper.GetInt("transport-workers-per-conn")

	// fail on invalid raft timings before anything is started
	raftConfig := serveCmdConfig.ToRaftConfig()
	return raftConfig.Validate()
}

// run starts the dMeta node
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	clientTransport, err := cmdUtil.GetTransportFactory()
	if err != nil {
		return err
	}

	var t transport.IRPCServerTransport
	switch viper.GetString("transport") {
	case "http":
		t = http.NewHttpServerTransport()
	case "tcp":
		t = tcp.NewTCPServerTransport(serveCmdConfig.Transport.ReadBufferSize)
	case "unix":
		t = unix.NewUnixServerTransport(serveCmdConfig.Transport.ReadBufferSize)
	default:
		return fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
		server.ClientTransportFactory(clientTransport),
		s,
	)

	return serv.Serve()
}
