package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "bruh")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	_ = withTmpConfig(t)
	got := cfgDir()
	base := os.Getenv("XDG_CONFIG_HOME") + "/bruh"
	if got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
	if !strings.HasPrefix(keyPath(), base) || !strings.HasSuffix(keyPath(), "key.json") {
		t.Fatalf("keyPath unexpected: %s", keyPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	now := time.Now().Add(1 * time.Minute)
	if err := saveToken("tok", now); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok2", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_key_SaveLoad_Mode0600(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadKey(); err == nil {
		t.Fatalf("expected error when key missing")
	}
	if err := saveKey(keyFile{PublicKey: "pub"}); err != nil {
		t.Fatalf("saveKey: %v", err)
	}
	if _, err := loadKey(); err == nil {
		t.Fatalf("incomplete key must not load")
	}

	want := keyFile{Username: "alice", PublicKey: "pub", PrivateKey: "priv"}
	if err := saveKey(want); err != nil {
		t.Fatalf("saveKey: %v", err)
	}
	got, err := loadKey()
	if err != nil || got != want {
		t.Fatalf("loadKey mismatch: %+v %v", got, err)
	}
	st, err := os.Stat(keyPath())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("key.json mode = %v, want 0600", st.Mode().Perm())
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "f.txt")
	_ = os.WriteFile(tmp, []byte("hello"), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != "hello" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	printJSON(map[string]any{"a": 1})
	_ = w.Close()
	out, _ := io.ReadAll(r)

	var m map[string]any
	if json.Unmarshal(out, &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", string(out))
	}
	if !bytes.Contains(out, []byte("\n")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_newClient_Base(t *testing.T) {
	t.Parallel()

	if c := newClient("localhost:8080", ""); c.base != "http://localhost:8080" {
		t.Fatalf("scheme not added: %s", c.base)
	}
	if c := newClient("https://bruh.example/", ""); c.base != "https://bruh.example" {
		t.Fatalf("trailing slash kept: %s", c.base)
	}
}

func Test_client_do_HeadersAndErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			if r.Header.Get("Authorization") != "Bearer T" || r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"n":1}`))
		case "/limited":
			w.Header().Set("Retry-After", "42")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limited, retry after 42s"}`))
		}
	}))
	defer srv.Close()

	c := newClient(srv.URL, "T")
	var out struct{ N int }
	if err := c.do(context.Background(), "POST", "/ok", map[string]string{"x": "y"}, &out); err != nil || out.N != 1 {
		t.Fatalf("do ok: %+v %v", out, err)
	}

	err := c.do(context.Background(), "GET", "/limited", nil, nil)
	var ae *apiError
	if !errors.As(err, &ae) {
		t.Fatalf("want apiError, got %v", err)
	}
	if ae.Code != http.StatusTooManyRequests || ae.RetryAfter != "42" || !strings.Contains(ae.Error(), "retry-after=42s") {
		t.Fatalf("apiError unexpected: %+v", ae)
	}
}
