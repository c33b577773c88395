package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/exec"

	"github.com/mattjoyce/wayguard/internal/client"
	"github.com/mattjoyce/wayguard/internal/protocol"
)

func printKeygrabHelp() {
	fmt.Println("Usage: wayguard keygrab [--count N] [--exec CMD] KEY[:MODS]...")
	fmt.Println()
	fmt.Println("Bind the keybindings global, register each KEY[:MODS] and print one JSON")
	fmt.Println("line per key event. Connects through WAYLAND_SOCKET when spawned by the")
	fmt.Println("compositor, or WAYLAND_DISPLAY otherwise. When the compositor requires a")
	fmt.Println("permission, run it under a grant:")
	fmt.Println()
	fmt.Println("  wayguard grant create --perm keybindings -- wayguard keygrab 23:mod4")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --count N    Exit after N events (default: run until disconnected)")
	fmt.Println("  --exec CMD   Run CMD with /bin/sh on every press")
}

func runKeygrab(args []string) int {
	fs := flag.NewFlagSet("keygrab", flag.ContinueOnError)
	count := fs.Int("count", 0, "Exit after N events")
	execCmd := fs.String("exec", "", "Shell command to run on every press")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() == 0 {
		printKeygrabHelp()
		return 1
	}

	conn, err := client.Connect()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connect failed: %v\n", err)
		return 1
	}
	defer conn.Close()

	kb, err := conn.BindKeybindings()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bind failed: %v\n", err)
		return 1
	}
	for _, spec := range fs.Args() {
		e, err := parseKeySpec(spec)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid key: %v\n", err)
			return 1
		}
		if err := kb.RegisterKey(e.Key, e.Mods); err != nil {
			fmt.Fprintf(os.Stderr, "Register failed: %v\n", err)
			return 1
		}
	}
	// A protocol error on bind or register surfaces here.
	if err := conn.Roundtrip(); err != nil {
		fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	for seen := 0; *count == 0 || seen < *count; seen++ {
		ev, err := kb.NextKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Disconnected: %v\n", err)
			return 1
		}
		_ = enc.Encode(ev)

		if *execCmd != "" && ev.State == protocol.KeyStatePressed {
			runOnPress(*execCmd, ev)
		}
	}
	return 0
}

// runOnPress starts cmd without waiting; the event is passed in the
// environment.
func runOnPress(cmd string, ev protocol.KeyEvent) {
	c := exec.Command("/bin/sh", "-c", cmd)
	c.Env = append(os.Environ(),
		fmt.Sprintf("WAYGUARD_KEY=%d", ev.Key),
		fmt.Sprintf("WAYGUARD_MODS=%d", ev.Mods),
		fmt.Sprintf("WAYGUARD_TIME=%d", ev.Time),
	)
	c.Stdout, c.Stderr = os.Stderr, os.Stderr
	if err := c.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "exec failed: %v\n", err)
		return
	}
	go func() { _ = c.Wait() }()
}
