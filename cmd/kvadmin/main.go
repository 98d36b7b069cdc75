// cmd/kvadmin is the Cobra-based CLI operators use against a running
// peer: one-shot put/get/delete against the wire protocol, the
// interactive R/W/E session, and read-only health/ring inspection
// against the debug HTTP surface.
//
// Usage:
//
//	kvadmin put mykey "hello world" --coordinator localhost:9000
//	kvadmin get mykey               --coordinator localhost:9000
//	kvadmin delete mykey            --coordinator localhost:9000
//	kvadmin repl                    --coordinator localhost:9000
//	kvadmin health                  --debug http://localhost:9100
//	kvadmin ring                    --debug http://localhost:9100
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"ringkv/internal/clientcli"

	"github.com/spf13/cobra"
)

var (
	coordinatorAddr string
	debugAddr       string
	timeout         time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "kvadmin",
		Short: "Operator CLI for a ring-kv peer",
	}

	root.PersistentFlags().StringVar(&coordinatorAddr, "coordinator", "localhost:9000",
		"Coordinator's wire protocol address")
	root.PersistentFlags().StringVar(&debugAddr, "debug", "http://localhost:9100",
		"Peer's debug HTTP address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second,
		"Network timeout")

	root.AddCommand(putCmd(), getCmd(), deleteCmd(), replCmd(), healthCmd(), ringCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── put ──────────────────────────────────────────────────────────────────────

func putCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a key-value pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientcli.New(coordinatorAddr, timeout)
			if err := c.Write(args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
}

// ─── get ──────────────────────────────────────────────────────────────────────

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Retrieve a value by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientcli.New(coordinatorAddr, timeout)
			rec, err := c.Read(args[0])
			if errors.Is(err, clientcli.ErrNotFound) {
				fmt.Printf("key %q not found\n", args[0])
				return nil
			}
			if err != nil {
				return err
			}
			prettyPrint(rec)
			return nil
		},
	}
}

// ─── delete ───────────────────────────────────────────────────────────────────

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientcli.New(coordinatorAddr, timeout)
			if err := c.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

// ─── repl ─────────────────────────────────────────────────────────────────────

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive R(ead)/W(rite)/E(xit) session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := clientcli.New(coordinatorAddr, timeout)
			clientcli.REPL(c, os.Stdin, os.Stdout)
			return nil
		},
	}
}

// ─── health / ring ────────────────────────────────────────────────────────────

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a peer's debug health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getDebugJSON("/health")
		},
	}
}

func ringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "ring",
		Aliases: []string{"nodes"},
		Short:   "Dump a peer's membership view",
		RunE: func(cmd *cobra.Command, args []string) error {
			return getDebugJSON("/debug/ring")
		},
	}
	return cmd
}

func getDebugJSON(path string) error {
	httpClient := &http.Client{Timeout: timeout}
	resp, err := httpClient.Get(debugAddr + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s: %s", path, resp.Status, body)
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	prettyPrint(v)
	return nil
}

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
