package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bruh/internal/convert"
	"github.com/and161185/bruh/internal/crypto"
	"github.com/and161185/bruh/internal/crypto/escrow"
	"github.com/and161185/bruh/internal/model"
)

// maxMessageChars bounds a message before sealing.
const maxMessageChars = 10000

// ------- generic helpers -------

func mustSuite() *crypto.Suite {
	s, err := crypto.Init(nil)
	if err != nil {
		fail(err)
	}
	return s
}

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// collectFingerprint describes this device the way a browser client would.
// The server only ever sees its hash.
func collectFingerprint() model.Fingerprint {
	fp := model.Fingerprint{
		"userAgent": "bruh-cli/" + version,
		"platform":  runtime.GOOS + "/" + runtime.GOARCH,
		"timezone":  time.Local.String(),
	}
	if lang := os.Getenv("LANG"); lang != "" {
		fp["language"] = lang
	}
	return fp
}

func keyBytes(k keyFile) (pub, priv []byte, err error) {
	if pub, err = crypto.DecodeBase64(k.PublicKey); err != nil {
		return nil, nil, fmt.Errorf("key file: public key: %w", err)
	}
	if priv, err = crypto.DecodeBase64(k.PrivateKey); err != nil {
		return nil, nil, fmt.Errorf("key file: private key: %w", err)
	}
	return pub, priv, nil
}

// ------- operations -------

// keygen creates a fresh key pair; an existing key is kept unless force is set.
func keygen(s *crypto.Suite, force bool) (keyFile, error) {
	if !force {
		if _, err := os.Stat(keyPath()); err == nil {
			return keyFile{}, fmt.Errorf("%s exists (use -force to replace it)", keyPath())
		}
	}
	kp, err := s.GenerateKeyPair()
	if err != nil {
		return keyFile{}, err
	}
	k := keyFile{PublicKey: crypto.EncodeBase64(kp.PublicKey), PrivateKey: crypto.EncodeBase64(kp.PrivateKey)}
	return k, saveKey(k)
}

func login(ctx context.Context, c *client, username, password string) (convert.LoginResponse, error) {
	var resp convert.LoginResponse
	err := c.do(ctx, "POST", "/v1/sessions", convert.LoginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return convert.LoginResponse{}, err
	}
	if err := saveToken(resp.AccessToken, resp.ExpiresAt); err != nil {
		return convert.LoginResponse{}, err
	}
	c.token = resp.AccessToken
	return resp, nil
}

// register creates the account for the local key and optionally escrows it.
func register(ctx context.Context, c *client, s *crypto.Suite, username, password, escrowPass string) (string, error) {
	k, err := loadKey()
	if err != nil {
		return "", fmt.Errorf("load key (run keygen first): %w", err)
	}
	var resp convert.RegisterResponse
	req := convert.RegisterRequest{Username: username, Password: password, PublicKey: k.PublicKey}
	if err := c.do(ctx, "POST", "/v1/users", req, &resp); err != nil {
		return "", err
	}
	k.Username = strings.ToLower(strings.TrimSpace(username))
	if err := saveKey(k); err != nil {
		return "", err
	}

	if escrowPass != "" {
		if _, err := login(ctx, c, username, password); err != nil {
			return "", err
		}
		if err := putEscrow(ctx, c, s, k, escrowPass); err != nil {
			return "", err
		}
	}
	return resp.UserID, nil
}

func putEscrow(ctx context.Context, c *client, s *crypto.Suite, k keyFile, passphrase string) error {
	pub, priv, err := keyBytes(k)
	if err != nil {
		return err
	}
	blob, err := escrow.Wrap(s, []byte(passphrase), priv, pub)
	if err != nil {
		return err
	}
	return c.do(ctx, "PUT", "/v1/me/escrow", convert.EscrowBody{WrappedKey: crypto.EncodeBase64(blob)}, nil)
}

// restoreKey rebuilds key.json from the escrow blob returned at login.
func restoreKey(ctx context.Context, c *client, username, wrapped, passphrase string) (keyFile, error) {
	pk, err := lookupKey(ctx, c, username)
	if err != nil {
		return keyFile{}, err
	}
	pub, err := crypto.DecodeBase64(pk.PublicKey)
	if err != nil {
		return keyFile{}, err
	}
	blob, err := crypto.DecodeBase64(wrapped)
	if err != nil {
		return keyFile{}, err
	}
	priv, err := escrow.Unwrap([]byte(passphrase), blob, pub)
	if err != nil {
		return keyFile{}, err
	}
	k := keyFile{Username: pk.Username, PublicKey: pk.PublicKey, PrivateKey: crypto.EncodeBase64(priv)}
	return k, saveKey(k)
}

func lookupKey(ctx context.Context, c *client, username string) (convert.PublicKeyResponse, error) {
	var resp convert.PublicKeyResponse
	err := c.do(ctx, "GET", userPath(strings.ToLower(strings.TrimSpace(username))), nil, &resp)
	return resp, err
}

// send seals text for the recipient's current public key and submits it.
func send(ctx context.Context, c *client, s *crypto.Suite, to, text string) (convert.SendResponse, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return convert.SendResponse{}, errors.New("message is empty")
	}
	if n := len([]rune(text)); n > maxMessageChars {
		return convert.SendResponse{}, fmt.Errorf("message is %d characters, limit is %d", n, maxMessageChars)
	}
	pk, err := lookupKey(ctx, c, to)
	if err != nil {
		return convert.SendResponse{}, err
	}
	pub, err := crypto.DecodeBase64(pk.PublicKey)
	if err != nil {
		return convert.SendResponse{}, err
	}
	env, err := s.Seal(text, pub)
	if err != nil {
		return convert.SendResponse{}, err
	}
	var resp convert.SendResponse
	err = c.do(ctx, "POST", "/v1/messages", convert.ToSendRequest(pk.Username, env, collectFingerprint()), &resp)
	return resp, err
}

type inboxRow struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	Text      string    `json:"text"`
}

// inbox fetches and opens messages; one bad envelope does not hide the rest.
func inbox(ctx context.Context, c *client, s *crypto.Suite, k keyFile, all bool) ([]inboxRow, error) {
	_, priv, err := keyBytes(k)
	if err != nil {
		return nil, err
	}
	path := "/v1/inbox"
	if all {
		path += "?all=1"
	}
	var resp convert.InboxResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}

	rows := make([]inboxRow, len(resp.Messages))
	envs := make([]model.Envelope, len(resp.Messages))
	for i, m := range resp.Messages {
		rows[i] = inboxRow{ID: m.ID, Status: m.Status, CreatedAt: m.CreatedAt}
		if _, env, err := convert.FromInboxMessage(m); err == nil {
			envs[i] = env
		}
	}
	for i, o := range s.OpenInbox(envs, priv) {
		rows[i].Text = o.Plaintext
	}
	return rows, nil
}

func setStatus(ctx context.Context, c *client, id, status string) error {
	if _, err := uuid.FromString(id); err != nil {
		return fmt.Errorf("-id: %w", err)
	}
	return c.do(ctx, "PATCH", "/v1/inbox/"+id, convert.StatusRequest{Status: status}, nil)
}

// ------- commands -------

func cmdKeygen(args []string) {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	force := fs.Bool("force", false, "replace an existing key")
	_ = fs.Parse(args)

	k, err := keygen(mustSuite(), *force)
	if err != nil {
		fail(err)
	}
	fmt.Println(k.PublicKey)
}

func cmdRegister(args []string, addr string) {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	escrowPass := fs.String("escrow-pass", "", "store the private key wrapped under this passphrase")
	_ = fs.Parse(args)
	if *u == "" || *p == "" {
		fmt.Fprintln(os.Stderr, "need -u and -p")
		os.Exit(2)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	id, err := register(ctx, newClient(addr, ""), mustSuite(), *u, *p, *escrowPass)
	if err != nil {
		fail(err)
	}
	fmt.Println(id)
}

func cmdLogin(args []string, addr string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	escrowPass := fs.String("escrow-pass", "", "restore the private key from escrow if missing locally")
	_ = fs.Parse(args)
	if *u == "" || *p == "" {
		fmt.Fprintln(os.Stderr, "need -u and -p")
		os.Exit(2)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	c := newClient(addr, "")
	resp, err := login(ctx, c, *u, *p)
	if err != nil {
		fail(err)
	}

	if _, err := loadKey(); err != nil {
		switch {
		case resp.WrappedKey == "":
			fmt.Fprintln(os.Stderr, "warning: no local key and no escrow; inbox cannot be decrypted")
		case *escrowPass == "":
			fmt.Fprintln(os.Stderr, "no local key; pass -escrow-pass to restore it from escrow")
		default:
			if _, err := restoreKey(ctx, c, *u, resp.WrappedKey, *escrowPass); err != nil {
				fail(fmt.Errorf("restore key: %w", err))
			}
			fmt.Println("key restored")
		}
	}
	fmt.Println("ok")
}

func cmdKey(args []string, addr string) {
	fs := flag.NewFlagSet("key", flag.ExitOnError)
	u := fs.String("u", "", "username")
	_ = fs.Parse(args)
	if *u == "" {
		fmt.Fprintln(os.Stderr, "need -u")
		os.Exit(2)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	resp, err := lookupKey(ctx, newClient(addr, ""), *u)
	if err != nil {
		fail(err)
	}
	printJSON(resp)
}

func cmdSend(args []string, addr string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	to := fs.String("to", "", "recipient username")
	msg := fs.String("m", "", "message text")
	file := fs.String("file", "", "read the message from a file ('-'=stdin)")
	_ = fs.Parse(args)
	if *to == "" || (*msg == "") == (*file == "") {
		fmt.Fprintln(os.Stderr, "need -to and one of -m or -file")
		os.Exit(2)
	}

	text := *msg
	if *file != "" {
		b, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		text = string(b)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	resp, err := send(ctx, newClient(addr, ""), mustSuite(), *to, text)
	if err != nil {
		fail(err)
	}
	printJSON(resp)
}

func cmdInbox(args []string, addr string) {
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	all := fs.Bool("all", false, "include quarantined, blocked and deleted messages")
	_ = fs.Parse(args)

	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	k, err := loadKey()
	if err != nil {
		fail(err)
	}

	ctx, cancel := withTimeout()
	defer cancel()
	rows, err := inbox(ctx, newClient(addr, token), mustSuite(), k, *all)
	if err != nil {
		fail(err)
	}
	printRows(os.Stdout, rows)
}

func printRows(w io.Writer, rows []inboxRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "inbox is empty")
		return
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %s  [%s]\n%s\n\n", r.CreatedAt.Local().Format(time.DateTime), r.ID, r.Status, r.Text)
	}
}

func cmdStatus(args []string, addr string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "message id (uuid)")
	set := fs.String("set", "", "visible, blocked or deleted")
	_ = fs.Parse(args)
	if *id == "" || *set == "" {
		fmt.Fprintln(os.Stderr, "need -id and -set")
		os.Exit(2)
	}

	token, err := loadToken()
	if err != nil {
		fail(err)
	}
	ctx, cancel := withTimeout()
	defer cancel()
	if err := setStatus(ctx, newClient(addr, token), *id, *set); err != nil {
		fail(err)
	}
	fmt.Println("ok")
}
