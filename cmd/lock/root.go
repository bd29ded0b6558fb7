package lock

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMeta/cmd/util"
	"github.com/ValentinKolb/dMeta/lib/lockmgr"
	"github.com/ValentinKolb/dMeta/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcLockMgr lockmgr.ILockManager
	lockTTL    time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform lock operations",
		PersistentPreRunE: setupLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the hex string returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	util.SetupRPCClientFlags(LockCommands)

	acquireCmd.Flags().DurationVar(&lockTTL, "ttl", 30*time.Second, "Time after which the lock is released automatically (0 for never)")
}

// setupLockClient initializes the lock manager client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcLockMgr, err = client.NewRPCLockMgr(*config, t, s)
	return err
}

// runAcquire handles the acquire lock command
func runAcquire(_ *cobra.Command, args []string) error {
	key := args[0]

	acquired, ownerID, err := rpcLockMgr.AcquireLock(key, lockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	if !acquired {
		fmt.Printf("acquired=false\n")
		return nil
	}

	fmt.Printf("acquired=true, ownerID=%s\n", hex.EncodeToString(ownerID))
	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	key := args[0]

	ownerID, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid owner ID format: %v", err)
	}

	released, err := rpcLockMgr.ReleaseLock(key, ownerID)
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
