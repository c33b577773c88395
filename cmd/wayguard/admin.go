package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mattjoyce/wayguard/internal/api"
	"github.com/mattjoyce/wayguard/internal/keymask"
)

// adminClient talks to the admin API of a running instance.
type adminClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAdminClient(baseURL, apiKey string) *adminClient {
	return &adminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *adminClient) do(method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("%s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// parseAdminFlags parses the shared API flags plus --json.
func parseAdminFlags(name string, args []string) (*adminClient, *flag.FlagSet, bool, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	jsonOut := fs.Bool("json", false, "Output raw JSON")
	if err := fs.Parse(args); err != nil {
		return nil, nil, false, err
	}
	return newAdminClient(*apiURL, *apiKey), fs, *jsonOut, nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func runSystemStatus(args []string) int {
	c, _, jsonOut, err := parseAdminFlags("status", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	var h api.HealthzResponse
	if err := c.do(http.MethodGet, "/healthz", nil, &h); err != nil {
		fmt.Fprintf(os.Stderr, "Status check failed: %v\n", err)
		return 1
	}
	if jsonOut {
		printJSON(h)
		return 0
	}
	fmt.Printf("status: %s\nuptime: %s\ngrants: %d\nkeybinding clients: %d\n",
		h.Status, time.Duration(h.UptimeSeconds)*time.Second, h.Grants, h.Keybindings)
	return 0
}

func runGrantNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Println("Usage: wayguard grant <list|create|revoke|log> [flags]")
		fmt.Println("  grant create [--name N] [--perm keybindings]... -- COMMAND")
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		return runGrantList(actionArgs)
	case "create":
		return runGrantCreate(actionArgs)
	case "revoke":
		return runGrantRevoke(actionArgs)
	case "log":
		return runGrantLog(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown grant action: %s\n", action)
		return 1
	}
}

func runGrantList(args []string) int {
	c, _, jsonOut, err := parseAdminFlags("grant list", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	var resp api.GrantsResponse
	if err := c.do(http.MethodGet, "/grants", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}
	if jsonOut {
		printJSON(resp)
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPERMISSIONS\tCLIENT\tCOMMAND")
	for _, g := range resp.Grants {
		client := "-"
		if g.ClientID != 0 {
			client = strconv.FormatUint(uint64(g.ClientID), 10)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", g.ID, g.Name, strings.Join(g.Permissions, ","), client, g.Command)
	}
	_ = w.Flush()
	return 0
}

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runGrantCreate(args []string) int {
	fs := flag.NewFlagSet("grant create", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	name := fs.String("name", "", "Grant name")
	var perms stringList
	fs.Var(&perms, "perm", "Permission to grant (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	command := strings.Join(fs.Args(), " ")
	if command == "" {
		fmt.Fprintln(os.Stderr, "Usage: wayguard grant create [--name N] [--perm P]... -- COMMAND")
		return 1
	}

	c := newAdminClient(*apiURL, *apiKey)
	req := api.CreateGrantRequest{Name: *name, Command: command, Permissions: perms}
	if req.Permissions == nil {
		req.Permissions = []string{}
	}
	var info json.RawMessage
	if err := c.do(http.MethodPost, "/grants", req, &info); err != nil {
		fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
		return 1
	}
	fmt.Println(string(info))
	return 0
}

func runGrantRevoke(args []string) int {
	c, fs, _, err := parseAdminFlags("grant revoke", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: wayguard grant revoke ID")
		return 1
	}
	id := fs.Arg(0)
	if err := c.do(http.MethodDelete, "/grants/"+url.PathEscape(id), nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Revoke failed: %v\n", err)
		return 1
	}
	fmt.Printf("revoked %s\n", id)
	return 0
}

func runGrantLog(args []string) int {
	c, fs, jsonOut, err := parseAdminFlags("grant log", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: wayguard grant log ID")
		return 1
	}
	var resp api.GrantLogResponse
	if err := c.do(http.MethodGet, "/grants/"+url.PathEscape(fs.Arg(0))+"/log", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Log failed: %v\n", err)
		return 1
	}
	if jsonOut {
		printJSON(resp)
		return 0
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tEVENT\tREASON\tCLIENT\tCOMMAND_HASH")
	for _, e := range resp.Entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", e.Seq, e.CreatedAt.Local().Format(time.DateTime), e.Event, e.Reason, e.ClientID, e.CommandHash)
	}
	_ = w.Flush()
	return 0
}

func runKeyNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Println("Usage: wayguard key <list|inject> [flags]")
		fmt.Println("  key inject [--released] KEY[:MODS]   MODS is '+'-joined, e.g. 23:mod4+shift")
		if len(args) < 1 {
			return 1
		}
		return 0
	}

	action, actionArgs := args[0], args[1:]
	switch action {
	case "list":
		return runKeyList(actionArgs)
	case "inject":
		return runKeyInject(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown key action: %s\n", action)
		return 1
	}
}

func runKeyList(args []string) int {
	c, _, jsonOut, err := parseAdminFlags("key list", args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	var resp api.KeybindingsResponse
	if err := c.do(http.MethodGet, "/keybindings", nil, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}
	if jsonOut {
		printJSON(resp)
		return 0
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT\tPID\tKEYS")
	for _, r := range resp.Registrations {
		keys := make([]string, 0, len(r.Keys))
		for _, k := range r.Keys {
			keys = append(keys, formatKeySpec(k))
		}
		fmt.Fprintf(w, "%d\t%d\t%s\n", r.ClientID, r.PID, strings.Join(keys, " "))
	}
	_ = w.Flush()
	return 0
}

func runKeyInject(args []string) int {
	fs := flag.NewFlagSet("key inject", flag.ContinueOnError)
	apiURL, apiKey := apiFlags(fs)
	released := fs.Bool("released", false, "Send a release instead of a press")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: wayguard key inject [--released] KEY[:MODS]")
		return 1
	}
	entry, err := parseKeySpec(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid key: %v\n", err)
		return 1
	}

	req := api.InjectKeyRequest{Key: entry.Key, Mask: entry.Mods, State: "pressed"}
	if *released {
		req.State = "released"
	}
	var resp api.InjectKeyResponse
	if err := newAdminClient(*apiURL, *apiKey).do(http.MethodPost, "/keys", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Inject failed: %v\n", err)
		return 1
	}
	if resp.Claimed {
		fmt.Printf("claimed %s (%s)\n", formatKeySpec(keymask.Entry{Key: resp.Key, Mods: resp.Mods}), resp.State)
	} else {
		fmt.Printf("not claimed %s (%s)\n", formatKeySpec(keymask.Entry{Key: resp.Key, Mods: resp.Mods}), resp.State)
	}
	return 0
}

// parseKeySpec reads KEY or KEY:MODS, with MODS a '+'-joined list of
// modifier names.
func parseKeySpec(s string) (keymask.Entry, error) {
	keyPart, modPart, hasMods := strings.Cut(strings.TrimSpace(s), ":")
	key, err := strconv.ParseUint(keyPart, 0, 32)
	if err != nil {
		return keymask.Entry{}, fmt.Errorf("key %q: not a number", keyPart)
	}
	if uint32(key) >= keymask.KeyDomain {
		return keymask.Entry{}, fmt.Errorf("key %d out of range", key)
	}
	var mods uint32
	if hasMods && modPart != "" && modPart != "none" {
		mods, err = keymask.ParseMods(strings.Split(modPart, "+"))
		if err != nil {
			return keymask.Entry{}, err
		}
	}
	return keymask.Entry{Key: uint32(key), Mods: mods}, nil
}

func formatKeySpec(e keymask.Entry) string {
	return fmt.Sprintf("%d:%s", e.Key, keymask.FormatMods(e.Mods))
}
