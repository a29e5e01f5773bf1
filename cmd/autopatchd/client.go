package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jlindqvist/autopatchd/pkg/client"
)

const defaultAPIURL = "http://localhost:8080"

// newAPIClient builds a daemon client for the given flags and attaches the
// saved session, if one exists for the target server.
func newAPIClient(flags *APIFlags) *client.Client {
	baseURL := flags.APIUrl
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	c := client.New(client.Config{BaseURL: baseURL, Timeout: flags.APITimeout})

	sm := NewSessionManager()
	if sess, err := sm.LoadSession(); err == nil && sess != nil && sess.ServerURL == baseURL {
		c.SetSessionToken(sess.Token)
	}
	return c
}

func apiURL(flags *APIFlags) string {
	if flags.APIUrl == "" {
		return defaultAPIURL
	}
	return flags.APIUrl
}

func cmdContext() context.Context { return context.Background() }

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
