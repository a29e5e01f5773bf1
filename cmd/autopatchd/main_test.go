package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRootHasSubcommands(t *testing.T) {
	root := buildRoot()
	want := []string{"serve", "login", "logout", "whoami", "run", "runs", "schedule", "inventory"}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}

func TestServeRequiresConfig(t *testing.T) {
	err := runServeCommand(&ServeFlags{}, nil)
	if err == nil {
		t.Fatalf("serve without config must fail")
	}
}

// stubDaemon mimics just enough of the daemon API for CLI flow tests.
func stubDaemon(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostFormValue("username") == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "autopatch_session", Value: "tok-123", Path: "/"})
		_ = json.NewEncoder(w).Encode(map[string]any{
			"username": r.PostFormValue("username"), "display_name": "Jane Doe", "groups": []string{"ops"},
		})
	})
	mux.HandleFunc("/api/runs", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("autopatch_session"); err != nil || c.Value != "tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":1,"env":"qa","status":"OK"}]`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestLoginPersistsSessionForLaterCommands(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ts := stubDaemon(t)

	root := buildRoot()
	root.SetArgs([]string{"login", "--username", "jdoe", "--password", "secret", "--api-url", ts.URL})
	if err := root.Execute(); err != nil {
		t.Fatalf("login command: %v", err)
	}

	sess, err := NewSessionManager().LoadSession()
	if err != nil || sess == nil {
		t.Fatalf("session not saved: %v", err)
	}
	if sess.Token != "tok-123" || sess.Username != "jdoe" || sess.ServerURL != ts.URL {
		t.Fatalf("session = %+v", sess)
	}

	// A fresh invocation picks the session up from disk.
	root = buildRoot()
	root.SetArgs([]string{"runs", "--api-url", ts.URL})
	if err := root.Execute(); err != nil {
		t.Fatalf("runs command: %v", err)
	}
}

func TestRunsWithoutSessionFails(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ts := stubDaemon(t)

	root := buildRoot()
	root.SetArgs([]string{"runs", "--api-url", ts.URL})
	root.SilenceErrors = true
	root.SilenceUsage = true
	if err := root.Execute(); err == nil {
		t.Fatalf("runs without a saved session must fail")
	}
}
