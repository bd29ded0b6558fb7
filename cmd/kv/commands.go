package kv

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/spf13/cobra"
)

func parseVersion(arg string) (uint64, error) {
	version, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version must be a number: %w", err)
	}
	return version, nil
}

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := rpcStore.Put(args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, version=%d\n", args[0], version)
			return nil
		},
	}
	putECmd = &cobra.Command{
		Use:   "putE [key] [value] [ttl]",
		Short: "Sets the value for a key that expires after ttl (e.g. 30s)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := time.ParseDuration(args[2])
			if err != nil {
				return fmt.Errorf("ttl must be a duration: %w", err)
			}
			version, err := rpcStore.PutE(args[0], []byte(args[1]), ttl)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, version=%d, ttl=%s\n", args[0], version, ttl)
			return nil
		},
	}
	casCmd = &cobra.Command{
		Use:   "cas [key] [expected version] [value]",
		Short: "Sets the value for a key if its version matches (0 = key must not exist)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			var version uint64
			if ttl > 0 {
				version, err = rpcStore.CompareAndSwapE(args[0], expected, []byte(args[2]), ttl)
			} else {
				version, err = rpcStore.CompareAndSwap(args[0], expected, []byte(args[2]))
			}
			if store.CodeOf(err) == store.RetCVersionMismatch {
				fmt.Printf("key=%s, swapped=false\n", args[0])
				return nil
			} else if err != nil {
				return err
			}
			fmt.Printf("key=%s, swapped=true, version=%d\n", args[0], version)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := store.ReadLinearizable
			if stale, _ := cmd.Flags().GetBool("stale"); stale {
				mode = store.ReadStale
			}
			value, version, found, err := rpcStore.Get(args[0], mode)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=%v, version=%d, value=%s\n", args[0], found, version, value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			existed, err := rpcStore.Delete(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%v\n", args[0], existed)
			return nil
		},
	}
	cadCmd = &cobra.Command{
		Use:   "cad [key] [expected version]",
		Short: "Deletes a key if its version matches",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expected, err := parseVersion(args[1])
			if err != nil {
				return err
			}
			err = rpcStore.CompareAndDelete(args[0], expected)
			if store.CodeOf(err) == store.RetCVersionMismatch {
				fmt.Printf("key=%s, deleted=false\n", args[0])
				return nil
			} else if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=true\n", args[0])
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about the database of a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := rpcStore.GetDBInfo()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
)
