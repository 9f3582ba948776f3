// Command admin talks to a running server over its unix admin socket.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "status":
			statusCmd(os.Args[2:])
			return
		case "ban":
			banCmd(os.Args[2:], false)
			return
		case "unban":
			banCmd(os.Args[2:], true)
			return
		case "create-player":
			createPlayerCmd(os.Args[2:])
			return
		case "access":
			accessCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <status|ban|unban|create-player|access> [flags]")
	os.Exit(2)
}

func client(socket string) *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socket)
			},
		},
	}
}

func call(socket, method, path string, body any, out any) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			fail(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, "http://admin"+path, reader)
	if err != nil {
		fail(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client(socket).Do(req)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "%s: %s\n", resp.Status, strings.TrimSpace(string(raw)))
		os.Exit(1)
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			fail(err)
		}
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func socketFlag(fs *flag.FlagSet) *string {
	return fs.String("socket", "/run/spadina.sock", "server admin socket")
}

func statusCmd(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	socket := socketFlag(fs)
	_ = fs.Parse(args)

	var reply struct {
		Peers  []string `json:"peers"`
		Realms []struct {
			Owner string `json:"Owner"`
			Asset string `json:"Asset"`
		} `json:"realms"`
		Banned []struct {
			Server string `json:"server"`
			Reason string `json:"reason"`
		} `json:"banned"`
	}
	call(*socket, http.MethodGet, "/admin/status", nil, &reply)

	fmt.Printf("peers: %d\n", len(reply.Peers))
	for _, p := range reply.Peers {
		fmt.Printf("  %s\n", p)
	}
	fmt.Printf("resident realms: %d\n", len(reply.Realms))
	for _, r := range reply.Realms {
		fmt.Printf("  %s/%s\n", r.Owner, r.Asset)
	}
	fmt.Printf("banned servers: %d\n", len(reply.Banned))
	for _, b := range reply.Banned {
		fmt.Printf("  %s  %s\n", b.Server, b.Reason)
	}
}

func banCmd(args []string, lift bool) {
	fs := flag.NewFlagSet("ban", flag.ExitOnError)
	socket := socketFlag(fs)
	reason := fs.String("reason", "", "reason recorded with the ban")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin ban|unban [flags] <server>")
		os.Exit(2)
	}

	call(*socket, http.MethodPost, "/admin/ban", map[string]any{
		"server": fs.Arg(0),
		"reason": *reason,
		"lift":   lift,
	}, nil)
	fmt.Println("ok")
}

func createPlayerCmd(args []string) {
	fs := flag.NewFlagSet("create-player", flag.ExitOnError)
	socket := socketFlag(fs)
	password := fs.String("password", "", "fixed password (password-mode servers only)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: admin create-player [flags] <name>")
		os.Exit(2)
	}

	var reply struct {
		Name      string `json:"name"`
		OTPSecret string `json:"otp_secret"`
		OTPURL    string `json:"otp_url"`
	}
	call(*socket, http.MethodPost, "/admin/player", map[string]any{
		"name":     fs.Arg(0),
		"password": *password,
	}, &reply)

	fmt.Printf("created %s\n", reply.Name)
	if reply.OTPSecret != "" {
		fmt.Printf("otp secret: %s\n", reply.OTPSecret)
		fmt.Printf("otp url:    %s\n", reply.OTPURL)
	}
}

func accessCmd(args []string) {
	fs := flag.NewFlagSet("access", flag.ExitOnError)
	socket := socketFlag(fs)
	target := fs.String("target", "access_server", "server access list to change")
	defaultAllow := fs.Bool("default-allow", false, "verdict when no rule matches")
	allow := fs.String("allow", "", "comma-separated allow predicates, e.g. *@here.example")
	deny := fs.String("deny", "", "comma-separated deny predicates")
	show := fs.Bool("show", false, "print the current list instead of changing it")
	_ = fs.Parse(args)

	if *show {
		var list any
		call(*socket, http.MethodGet, "/admin/access?target="+*target, nil, &list)
		out, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(out))
		return
	}

	call(*socket, http.MethodPost, "/admin/access", map[string]any{
		"target":        *target,
		"default_allow": *defaultAllow,
		"allow":         split(*allow),
		"deny":          split(*deny),
	}, nil)
	fmt.Println("ok")
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
