package main

import (
	"fmt"
	"os"
	"strings"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = os.Getenv("ESCROW_RPC_TOKEN")
)

func defaultRPCEndpoint() string {
	if url := strings.TrimSpace(os.Getenv("RPC_URL")); url != "" {
		return url
	}
	return "http://127.0.0.1:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--rpc requires a value")
			}
			i++
			rpcEndpoint = args[i]
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		default:
			out = append(out, arg)
		}
	}
	if strings.TrimSpace(rpcEndpoint) == "" {
		return nil, fmt.Errorf("rpc endpoint must not be empty")
	}
	return out, nil
}

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	os.Exit(runCommand(args, os.Stdout, os.Stderr))
}

func printUsage() {
	fmt.Println(strings.TrimSpace(`Usage:
  escrow-cli [--rpc <url>] <command> [flags]

Commands:
  generate-key       Generate a new keypair, optionally saving to a keystore
  key-address        Print the address held in a keystore file
  balance            Show the spendable balance of an address
  mint               Credit funds to an address (dev networks)
  create             Create a new escrow with milestones
  accept             Accept an open escrow as freelancer
  complete-milestone Approve and pay a milestone as client
  cancel             Cancel an unaccepted escrow
  dispute            Dispute an in-progress escrow
  get                Fetch escrow details by id
  milestone          Fetch a single milestone
  milestone-count    Show the milestone count for an escrow
  list-client        List escrow ids funded by an address
  list-freelancer    List escrow ids accepted by an address
  list-open          List open escrow ids
  events             Fetch the escrow event log

Environment:
  RPC_URL                     JSON-RPC endpoint (default http://127.0.0.1:8080)
  ESCROW_RPC_TOKEN            Bearer token for mutating methods
  ESCROW_KEYSTORE_PASSPHRASE  Passphrase for keystore operations`))
}
