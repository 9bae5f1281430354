package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"escrowchain/crypto"
	"escrowchain/native/escrow"
)

const keystorePassphraseEnv = "ESCROW_KEYSTORE_PASSPHRASE"

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

var rpcCall = callRPC

func runCommand(args []string, stdout, stderr io.Writer) int {
	switch args[0] {
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "key-address":
		return runKeyAddress(args[1:], stdout, stderr)
	case "balance":
		return runAddressQuery("bank_balance", args[1:], stdout, stderr)
	case "mint":
		return runMint(args[1:], stdout, stderr)
	case "create":
		return runCreate(args[1:], stdout, stderr)
	case "accept":
		return runAccept(args[1:], stdout, stderr)
	case "complete-milestone":
		return runCompleteMilestone(args[1:], stdout, stderr)
	case "cancel":
		return runReasonTransition("escrow_cancel", args[1:], stdout, stderr)
	case "dispute":
		return runReasonTransition("escrow_dispute", args[1:], stdout, stderr)
	case "get":
		return runIDQuery("escrow_get", args[1:], stdout, stderr)
	case "milestone":
		return runMilestoneQuery(args[1:], stdout, stderr)
	case "milestone-count":
		return runIDQuery("escrow_milestoneCount", args[1:], stdout, stderr)
	case "list-client":
		return runAddressQuery("escrow_listByClient", args[1:], stdout, stderr)
	case "list-freelancer":
		return runAddressQuery("escrow_listByFreelancer", args[1:], stdout, stderr)
	case "list-open":
		return runListOpen(stdout, stderr)
	case "events":
		return runEvents(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage()
		return 1
	}
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("generate-key", stderr)
	var keystorePath string
	fs.StringVar(&keystorePath, "keystore", "", "write the key to an encrypted keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printCLIError(stderr, err.Error())
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(stdout, "Address:     %s\n", addr.String())
	if keystorePath == "" {
		fmt.Fprintf(stdout, "Private key: %s\n", hex.EncodeToString(key.Bytes()))
		return 0
	}
	passphrase := os.Getenv(keystorePassphraseEnv)
	if passphrase == "" {
		return printCLIError(stderr, keystorePassphraseEnv+" must be set when using --keystore")
	}
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return printCLIError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Keystore:    %s\n", keystorePath)
	return 0
}

func runKeyAddress(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("key-address", stderr)
	var keystorePath string
	fs.StringVar(&keystorePath, "keystore", "", "encrypted keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if keystorePath == "" {
		return printCLIError(stderr, "--keystore is required")
	}
	passphrase := os.Getenv(keystorePassphraseEnv)
	if passphrase == "" {
		return printCLIError(stderr, keystorePassphraseEnv+" must be set")
	}
	key, err := crypto.LoadFromKeystore(keystorePath, passphrase)
	if err != nil {
		return printCLIError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

func runMint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("mint", stderr)
	var address, amount string
	fs.StringVar(&address, "address", "", "recipient bech32 address")
	fs.StringVar(&amount, "amount", "", "amount in minor units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" || amount == "" {
		return printCLIError(stderr, "--address and --amount are required")
	}
	params := map[string]interface{}{"address": address, "amount": amount}
	return invoke(stdout, stderr, "bank_mint", params, true)
}

type milestoneFlags []string

func (m *milestoneFlags) String() string { return strings.Join(*m, ";") }

func (m *milestoneFlags) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func runCreate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create", stderr)
	var (
		client      string
		title       string
		description string
		milestones  milestoneFlags
	)
	fs.StringVar(&client, "client", "", "client bech32 address")
	fs.StringVar(&title, "title", "", "escrow title")
	fs.StringVar(&description, "description", "", "escrow description")
	fs.Var(&milestones, "milestone", "milestone as description:amount[:deadline], repeatable")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if client == "" || title == "" {
		return printCLIError(stderr, "--client and --title are required")
	}
	if len(milestones) == 0 {
		return printCLIError(stderr, "at least one --milestone is required")
	}
	parsed := make([]map[string]interface{}, 0, len(milestones))
	for _, raw := range milestones {
		ms, err := parseMilestoneFlag(raw)
		if err != nil {
			return printCLIError(stderr, err.Error())
		}
		parsed = append(parsed, ms)
	}
	params := map[string]interface{}{
		"client":      client,
		"title":       title,
		"description": description,
		"milestones":  parsed,
	}
	return invoke(stdout, stderr, "escrow_create", params, true)
}

func parseMilestoneFlag(raw string) (map[string]interface{}, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("milestone %q must be description:amount[:deadline]", raw)
	}
	description := strings.TrimSpace(parts[0])
	amount := strings.TrimSpace(parts[1])
	if description == "" || amount == "" {
		return nil, fmt.Errorf("milestone %q needs a description and an amount", raw)
	}
	if _, err := escrow.ParseAmount(amount); err != nil {
		return nil, fmt.Errorf("milestone %q: %v", raw, err)
	}
	ms := map[string]interface{}{"description": description, "amount": amount}
	if len(parts) == 3 {
		deadline, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("milestone %q: invalid deadline", raw)
		}
		ms["deadline"] = deadline
	}
	return ms, nil
}

func runAccept(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("accept", stderr)
	var (
		id         uint64
		freelancer string
	)
	fs.Uint64Var(&id, "id", 0, "escrow identifier")
	fs.StringVar(&freelancer, "freelancer", "", "freelancer bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 || freelancer == "" {
		return printCLIError(stderr, "--id and --freelancer are required")
	}
	params := map[string]interface{}{"id": id, "freelancer": freelancer}
	return invoke(stdout, stderr, "escrow_accept", params, true)
}

func runCompleteMilestone(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("complete-milestone", stderr)
	var (
		id     uint64
		index  int
		caller string
	)
	fs.Uint64Var(&id, "id", 0, "escrow identifier")
	fs.IntVar(&index, "index", -1, "milestone index")
	fs.StringVar(&caller, "caller", "", "client bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 || index < 0 || caller == "" {
		return printCLIError(stderr, "--id, --index and --caller are required")
	}
	params := map[string]interface{}{"id": id, "index": index, "caller": caller}
	return invoke(stdout, stderr, "escrow_completeMilestone", params, true)
}

func runReasonTransition(method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(method, stderr)
	var (
		id     uint64
		caller string
		reason string
	)
	fs.Uint64Var(&id, "id", 0, "escrow identifier")
	fs.StringVar(&caller, "caller", "", "actor bech32 address")
	fs.StringVar(&reason, "reason", "", "optional reason")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 || caller == "" {
		return printCLIError(stderr, "--id and --caller are required")
	}
	params := map[string]interface{}{"id": id, "caller": caller}
	if strings.TrimSpace(reason) != "" {
		params["reason"] = reason
	}
	return invoke(stdout, stderr, method, params, true)
}

func runIDQuery(method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(method, stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "escrow identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		return printCLIError(stderr, "--id is required")
	}
	return invoke(stdout, stderr, method, map[string]interface{}{"id": id}, false)
}

func runMilestoneQuery(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("milestone", stderr)
	var (
		id    uint64
		index int
	)
	fs.Uint64Var(&id, "id", 0, "escrow identifier")
	fs.IntVar(&index, "index", -1, "milestone index")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 || index < 0 {
		return printCLIError(stderr, "--id and --index are required")
	}
	params := map[string]interface{}{"id": id, "index": index}
	return invoke(stdout, stderr, "escrow_getMilestone", params, false)
}

func runAddressQuery(method string, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet(method, stderr)
	var address string
	fs.StringVar(&address, "address", "", "bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" {
		return printCLIError(stderr, "--address is required")
	}
	return invoke(stdout, stderr, method, map[string]interface{}{"address": address}, false)
}

func runListOpen(stdout, stderr io.Writer) int {
	result, rpcErr, err := rpcCall("escrow_listOpen", nil, false)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	var (
		after int64
		limit int
	)
	fs.Int64Var(&after, "after", 0, "sequence cursor")
	fs.IntVar(&limit, "limit", 0, "maximum events to fetch")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{"after": after}
	if limit > 0 {
		params["limit"] = limit
	}
	return invoke(stdout, stderr, "escrow_events", params, false)
}

func invoke(stdout, stderr io.Writer, method string, params interface{}, requireAuth bool) int {
	result, rpcErr, err := rpcCall(method, params, requireAuth)
	if err != nil {
		return handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return handleRPCError(stderr, rpcErr)
	}
	writeRPCResult(stdout, result)
	return 0
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printCLIError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func handleRPCError(w io.Writer, err *rpcError) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC error %d: %s\n", err.Code, err.Message)
	if len(err.Data) > 0 {
		fmt.Fprintf(w, "  %s\n", string(err.Data))
	}
	return 1
}

func handleRPCCallError(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	fmt.Fprintf(w, "RPC call failed: %v\n", err)
	return 1
}

func writeRPCResult(w io.Writer, result json.RawMessage) {
	if len(result) == 0 {
		fmt.Fprintln(w, "null")
		return
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		_, _ = w.Write(result)
		fmt.Fprintln(w)
		return
	}
	_, _ = pretty.WriteTo(w)
	fmt.Fprintln(w)
}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		token := strings.TrimSpace(rpcAuthToken)
		if token == "" {
			return nil, nil, fmt.Errorf("ESCROW_RPC_TOKEN must be set for %s", method)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}
