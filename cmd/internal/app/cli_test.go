package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func setCLIEnv(t *testing.T, apiURL string) {
	t.Helper()
	t.Setenv("PACSCHAT_API_BASE_URL", apiURL)
	t.Setenv("PACSCHAT_CREDENTIAL_PATH", filepath.Join(t.TempDir(), "credential"))
	t.Setenv("PACSCHAT_CREDENTIAL_PASSPHRASE", "")
	t.Setenv("PACSCHAT_TOKEN_FORMAT", "")
	t.Setenv("PACSCHAT_LOG_LEVEL", "error")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// The CLI reads process env, so these tests do not run in parallel.
func TestCLI_LoginWhoamiLogout(t *testing.T) {
	srv := newBackend(t)
	setCLIEnv(t, srv.URL)

	out, err := execute(t, "secret\n", "login", "bob")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out, "signed in as Bob (bob)") {
		t.Fatalf("login output=%q", out)
	}

	out, err = execute(t, "", "whoami")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if !strings.Contains(out, "Bob (bob)") || !strings.Contains(out, "role: ROLE_STAFF") {
		t.Fatalf("whoami output=%q", out)
	}

	if out, err = execute(t, "", "logout"); err != nil || !strings.Contains(out, "signed out") {
		t.Fatalf("logout out=%q err=%v", out, err)
	}

	if _, err = execute(t, "", "whoami"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("whoami after logout err=%v", err)
	}
}

func TestCLI_LoginWrongPassword(t *testing.T) {
	srv := newBackend(t)
	setCLIEnv(t, srv.URL)

	if _, err := execute(t, "nope\n", "login", "bob"); err == nil {
		t.Fatalf("expected login failure")
	}
	if _, err := execute(t, "", "whoami"); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("whoami err=%v", err)
	}
}

func TestCLI_LoginRequiresUser(t *testing.T) {
	srv := newBackend(t)
	setCLIEnv(t, srv.URL)

	if _, err := execute(t, "", "login"); err == nil {
		t.Fatalf("expected argument error")
	}
}

func TestReadLine(t *testing.T) {
	t.Parallel()

	r := strings.NewReader("first\r\nsecond\n")
	got, err := readLine(r)
	if err != nil || got != "first" {
		t.Fatalf("readLine=%q err=%v", got, err)
	}
	got, err = readLine(r)
	if err != nil || got != "second" {
		t.Fatalf("readLine=%q err=%v", got, err)
	}
	if _, err := readLine(r); err == nil {
		t.Fatalf("expected error at EOF")
	}
}
