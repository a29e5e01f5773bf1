package ldapauth

import (
	"crypto/tls"
	"fmt"
	"net"

	"github.com/go-ldap/ldap/v3"
)

// ldapClient adapts go-ldap to the Client capability interface.
type ldapClient struct {
	conn    *ldap.Conn
	timeout int // whole seconds, for the server-side search time limit
}

// dialLDAP opens the directory connection with bounded dial and request
// timeouts. ldaps:// is used when TLS is requested; certificates are
// verified against the system pool.
func dialLDAP(cfg Config) (Client, error) {
	scheme := "ldap"
	if cfg.UseTLS {
		scheme = "ldaps"
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: cfg.Timeout}),
	}
	if cfg.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}))
	}
	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(cfg.Timeout)
	secs := int(cfg.Timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return &ldapClient{conn: conn, timeout: secs}, nil
}

func (c *ldapClient) Bind(dn, password string) error {
	return c.conn.Bind(dn, password)
}

func (c *ldapClient) SearchUser(base, filter string) ([]Entry, error) {
	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases,
		2, // size limit: one match expected, two detects ambiguity
		c.timeout, false,
		filter,
		[]string{"cn", "displayName", "memberOf"},
		nil,
	)
	res, err := c.conn.Search(req)
	if err != nil {
		// A size-limit overrun still means "more than one match".
		if ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) && res != nil && len(res.Entries) > 1 {
			return toEntries(res.Entries), nil
		}
		return nil, err
	}
	return toEntries(res.Entries), nil
}

func (c *ldapClient) Close() error {
	return c.conn.Close()
}

func toEntries(in []*ldap.Entry) []Entry {
	out := make([]Entry, 0, len(in))
	for _, e := range in {
		out = append(out, Entry{
			DN:          e.DN,
			CN:          e.GetAttributeValue("cn"),
			DisplayName: e.GetAttributeValue("displayName"),
			Groups:      e.GetAttributeValues("memberOf"),
		})
	}
	return out
}
