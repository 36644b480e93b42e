// Command bruh is a CLI client for the bruh anonymous feedback service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/and161185/bruh/internal/convert"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "bruh")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "bruh")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func keyPath() string { return filepath.Join(cfgDir(), "key.json") }

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o600)
}

func saveToken(tok string, exp time.Time) error {
	return writeJSONFile(tokenPath(), tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// keyFile is the recipient key pair. The private key never leaves this file
// unless the user opts in to escrow.
type keyFile struct {
	Username   string `json:"username,omitempty"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func saveKey(k keyFile) error { return writeJSONFile(keyPath(), k) }

func loadKey() (keyFile, error) {
	b, err := os.ReadFile(keyPath())
	if err != nil {
		return keyFile{}, err
	}
	var k keyFile
	if err := json.Unmarshal(b, &k); err != nil {
		return keyFile{}, err
	}
	if k.PublicKey == "" || k.PrivateKey == "" {
		return keyFile{}, errors.New("key file is incomplete (run keygen)")
	}
	return k, nil
}

// ---- http client ----

// apiError is a non-2xx answer from the server.
type apiError struct {
	Code       int
	Msg        string
	RetryAfter string
}

func (e *apiError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("http error: code=%d msg=%s retry-after=%ss", e.Code, e.Msg, e.RetryAfter)
	}
	return fmt.Sprintf("http error: code=%d msg=%s", e.Code, e.Msg)
}

type client struct {
	base  string
	token string
	hc    *http.Client
}

func newClient(addr, token string) *client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &client{base: base, token: token, hc: &http.Client{Timeout: 30 * time.Second}}
}

// do sends in as JSON (if non-nil) and decodes the answer into out (if non-nil).
func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e convert.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Code: resp.StatusCode, Msg: e.Error, RetryAfter: resp.Header.Get("Retry-After")}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func userPath(username string) string { return "/v1/users/" + url.PathEscape(username) }

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func usage() {
	fmt.Fprintf(os.Stderr, `bruh CLI
Usage:
  bruh -addr URL <cmd> [args]

Commands:
  version
  keygen     [-force]                                  (writes key.json)
  register   -u <username> -p <password> [-escrow-pass <pass>]
  login      -u <username> -p <password> [-escrow-pass <pass>]   (saves token)
  key        -u <username>                             (public key lookup)
  send       -to <username> (-m <text> | -file <path|->)
  inbox      [-all]                                    (decrypts locally)
  status     -id <uuid> -set <visible|blocked|deleted>
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands.
func main() {
	addr := flag.String("addr", "http://localhost:8080", "server URL")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	args := flag.Args()[1:]

	switch flag.Arg(0) {
	case "version":
		fmt.Printf("bruh %s (%s)\n", version, buildDate)
	case "keygen":
		cmdKeygen(args)
	case "register":
		cmdRegister(args, *addr)
	case "login":
		cmdLogin(args, *addr)
	case "key":
		cmdKey(args, *addr)
	case "send":
		cmdSend(args, *addr)
	case "inbox":
		cmdInbox(args, *addr)
	case "status":
		cmdStatus(args, *addr)
	default:
		usage()
	}
}

// ---- helpers ----

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
