package ldapauth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials covers a wrong password as well as zero or
	// multiple directory matches for the username. User-facing and
	// retryable by the user.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnavailable covers configuration, connectivity and protocol
	// failures. Operational, never the user's fault.
	ErrUnavailable = errors.New("authentication service unavailable")
)

// DefaultTimeout bounds the directory round-trip so a hung server cannot
// stall the login path.
const DefaultTimeout = 8 * time.Second

// Identity is the verified operator identity returned on success.
type Identity struct {
	Username    string
	DisplayName string
	Groups      []string
}

// Entry is one directory entry matched by the user search.
type Entry struct {
	DN          string
	CN          string
	DisplayName string
	Groups      []string
}

// Client is the directory capability the verifier needs. The production
// implementation wraps go-ldap; tests substitute a fake.
type Client interface {
	Bind(dn, password string) error
	SearchUser(base, filter string) ([]Entry, error)
	Close() error
}

// Dialer opens a directory connection for one verification attempt.
type Dialer func(cfg Config) (Client, error)

// Config is the directory connection and search configuration. All fields
// are required except UserSearchBase, which falls back to BaseDN.
type Config struct {
	Host             string
	Port             int
	BaseDN           string
	BindDN           string
	BindPassword     string
	UserSearchBase   string
	UserSearchFilter string // must contain the {{username}} placeholder
	UseTLS           bool
	Timeout          time.Duration
}

func (c Config) validate() error {
	switch {
	case c.Host == "":
		return errors.New("ldap host missing")
	case c.Port < 1 || c.Port > 65535:
		return fmt.Errorf("ldap port %d out of range", c.Port)
	case c.BaseDN == "":
		return errors.New("ldap base DN missing")
	case c.BindDN == "" || c.BindPassword == "":
		return errors.New("ldap bind credentials missing")
	case !strings.Contains(c.UserSearchFilter, "{{username}}"):
		return errors.New("ldap user search filter must contain {{username}}")
	}
	return nil
}

// Verifier checks operator credentials against the directory: service
// bind, single-entry user search, then a re-bind as the matched entry to
// confirm the password.
type Verifier struct {
	cfg  Config
	dial Dialer
}

func NewVerifier(cfg Config, dial Dialer) *Verifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if dial == nil {
		dial = dialLDAP
	}
	return &Verifier{cfg: cfg, dial: dial}
}

// Verify returns the identity for a valid username/password pair, or one
// of ErrInvalidCredentials / ErrUnavailable.
func (v *Verifier) Verify(username, password string) (Identity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}
	if err := v.cfg.validate(); err != nil {
		slog.Error("directory configuration invalid", "err", err)
		return Identity{}, ErrUnavailable
	}

	client, err := v.dial(v.cfg)
	if err != nil {
		slog.Error("directory dial failed", "host", v.cfg.Host, "err", err)
		return Identity{}, ErrUnavailable
	}
	defer func() { _ = client.Close() }()

	if err := client.Bind(v.cfg.BindDN, v.cfg.BindPassword); err != nil {
		slog.Error("service bind failed", "err", err)
		return Identity{}, ErrUnavailable
	}

	base := v.cfg.UserSearchBase
	if base == "" {
		base = v.cfg.BaseDN
	}
	entries, err := client.SearchUser(base, BuildUserFilter(username, v.cfg.UserSearchFilter))
	if err != nil {
		slog.Error("user search failed", "err", err)
		return Identity{}, ErrUnavailable
	}
	if len(entries) != 1 || entries[0].DN == "" {
		return Identity{}, ErrInvalidCredentials
	}
	entry := entries[0]

	if err := client.Bind(entry.DN, password); err != nil {
		if isInvalidCredentials(err) {
			return Identity{}, ErrInvalidCredentials
		}
		slog.Error("user bind failed", "err", err)
		return Identity{}, ErrUnavailable
	}

	display := entry.DisplayName
	if display == "" {
		display = entry.CN
	}
	if display == "" {
		display = username
	}
	groups := entry.Groups
	if groups == nil {
		groups = []string{}
	}
	return Identity{Username: username, DisplayName: display, Groups: groups}, nil
}

// BuildUserFilter substitutes the escaped username into the filter
// template. Untrusted input never reaches the filter unescaped.
func BuildUserFilter(username, template string) string {
	return strings.ReplaceAll(template, "{{username}}", EscapeFilterValue(username))
}

// EscapeFilterValue escapes the characters with special meaning in a
// directory search filter (RFC 4515): backslash, asterisk, parentheses
// and NUL. Replacement is single-pass, so produced escape sequences are
// never re-escaped.
func EscapeFilterValue(s string) string {
	r := strings.NewReplacer(
		`\`, `\5c`,
		`*`, `\2a`,
		`(`, `\28`,
		`)`, `\29`,
		"\x00", `\00`,
	)
	return r.Replace(s)
}

func isInvalidCredentials(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid credentials") || strings.Contains(msg, "invalidcredential")
}
