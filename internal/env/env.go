// Package env composes the process environment handed to the patch engine.
// The daemon's own environment is the base; configured variables and
// per-run overrides are layered on top, with ${VAR} expansion against the
// composed set.
package env

import (
	"os"
	"strings"
)

type Var map[string]string

type Env struct {
	Var  Var // configured variables (K->V), applied over the base
	base Var // cached daemon environment
}

func New() *Env {
	return &Env{
		Var: make(Var),
	}
}

// FromOS caches the daemon's current environment as the base.
func (e *Env) FromOS() {
	base := make(Var)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" {
				continue
			}
			base[k] = v
		}
	}
	e.base = base
}

// Set sets a configured variable K=V.
func (e *Env) Set(k, v string) {
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a configured variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment list for one engine process:
// base = daemon environment (cached on first use)
// then the configured e.Var entries
// then perRun (slice of "K=V") overrides for this invocation.
// Returns the environment in "K=V" form, with ${VAR} expansion performed
// against the composed map (single pass, no recursion).
func (e *Env) Merge(perRun []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(Var)
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.Var {
		if k == "" {
			continue
		}
		m[k] = v
	}
	for _, kv := range perRun {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			v := kv[i+1:]
			if k == "" { // skip malformed entries with empty key
				continue
			}
			m[k] = v
		}
	}
	expanded := make(Var, len(m))
	for k, v := range m {
		expanded[k] = expand(v, m)
	}
	out := make([]string, 0, len(expanded))
	for k, v := range expanded {
		if k == "" {
			continue
		}
		out = append(out, k+"="+v)
	}
	return out
}

func expand(s string, m Var) string {
	res := s
	for k, v := range m {
		res = strings.ReplaceAll(res, "${"+k+"}", v)
	}
	return res
}
