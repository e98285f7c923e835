package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Client authenticates users against Active Directory. Every call to Authenticate
// opens its own connection, binds it with the caller's credentials and closes it again.
type Client struct {
	config    *ConnectionConfig
	dialer    Dialer
	mapper    *UserMapper
	discovery *SRVDiscovery
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the network dialer.
func WithDialer(dialer Dialer) Option {
	return func(c *Client) {
		c.dialer = dialer
	}
}

// WithDiscovery replaces the SRV discovery used when no domain controllers are configured.
func WithDiscovery(discovery *SRVDiscovery) Option {
	return func(c *Client) {
		c.discovery = discovery
	}
}

// NewClient creates a directory client.
func NewClient(config *ConnectionConfig, opts ...Option) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if strings.TrimSpace(config.BaseDN) == "" {
		return nil, fmt.Errorf("base DN is required")
	}
	if err := ValidateDNSyntax(config.BaseDN); err != nil {
		return nil, fmt.Errorf("invalid base DN: %w", err)
	}
	if len(config.DomainControllers) == 0 && config.Domain == "" {
		return nil, fmt.Errorf("either domain controllers or a domain for SRV discovery must be configured")
	}
	for _, controller := range config.DomainControllers {
		if _, err := ParseDomainController(controller, config.UseTLS); err != nil {
			return nil, fmt.Errorf("invalid domain controller %q: %w", controller, err)
		}
	}

	mapper, err := NewUserMapper(config.ExternalIDAttribute)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:    config,
		dialer:    &netDialer{config: config},
		mapper:    mapper,
		discovery: NewSRVDiscovery(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Authenticate binds to the directory as username and returns the user's directory entry.
//
// The returned error matches exactly one of ErrCredentialsMissing, ErrInvalidCredentials,
// ErrUserNotFound or ErrServiceUnavailable.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*DirectoryUser, error) {
	creds := Credentials{Username: strings.TrimSpace(username), Password: password}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	login := parseLogin(creds.Username, c.config.AccountSuffix)
	start := time.Now()

	LogAuthEvent(ctx, "lookup_attempted", map[string]any{
		"username":    creds.Username,
		"bind_as":     login.bind,
		"auth_method": c.config.AuthMethod.String(),
	})

	user, err := c.authenticate(ctx, creds, login)
	duration := time.Since(start).Milliseconds()

	switch {
	case err == nil:
		LogAuthEvent(ctx, "authentication_succeeded", map[string]any{
			"username":    creds.Username,
			"external_id": user.ExternalID,
			"group_count": len(user.Groups),
			"duration_ms": duration,
		})
	case errors.Is(err, ErrUserNotFound):
		LogAuthEvent(ctx, "user_not_found", map[string]any{
			"username":    creds.Username,
			"base_dn":     c.config.BaseDN,
			"duration_ms": duration,
		})
	default:
		LogAuthEvent(ctx, "authentication_failed", map[string]any{
			"username":       creds.Username,
			"error":          err.Error(),
			"error_category": string(GetErrorCategory(err)),
			"duration_ms":    duration,
		})
	}

	return user, err
}

func (c *Client) authenticate(ctx context.Context, creds Credentials, login loginName) (*DirectoryUser, error) {
	servers, err := c.resolveServers(ctx)
	if err != nil {
		return nil, serviceUnavailable("discover", err)
	}

	conn, server, err := c.connect(ctx, servers)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	bindFields := map[string]any{
		"server":   ServerInfoToURL(server),
		"username": creds.Username,
	}
	if err := LogOperation(ctx, Subsystem, "bind", bindFields, func() error {
		return c.bind(ctx, conn, server, creds, login)
	}); err != nil {
		LogLDAPError(ctx, Subsystem, "bind", err, map[string]any{
			"server":   ServerInfoToURL(server),
			"username": creds.Username,
		})
		return nil, classifyBindError(err)
	}

	var entry *ldap.Entry
	if err := LogOperation(ctx, Subsystem, "search", map[string]any{"username": creds.Username}, func() error {
		var searchErr error
		entry, searchErr = c.searchUser(ctx, conn, login)
		return searchErr
	}); err != nil {
		return nil, err
	}

	if reason, rejected := accountControlRejects(entry); rejected {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, reason)
	}

	user, err := c.mapper.EntryToUser(entry)
	if err != nil {
		return nil, serviceUnavailable("map", err)
	}

	return user, nil
}

// resolveServers returns the configured controllers in order, or discovers them through DNS.
func (c *Client) resolveServers(ctx context.Context) ([]*ServerInfo, error) {
	if len(c.config.DomainControllers) == 0 {
		return c.discovery.DiscoverServers(ctx, c.config.Domain)
	}

	servers := make([]*ServerInfo, 0, len(c.config.DomainControllers))
	for i, controller := range c.config.DomainControllers {
		server, err := ParseDomainController(controller, c.config.UseTLS)
		if err != nil {
			return nil, err
		}
		server.Priority = i
		servers = append(servers, server)
	}

	return servers, nil
}

// connect tries each server in order, making up to MaxRetries further passes with backoff.
func (c *Client) connect(ctx context.Context, servers []*ServerInfo) (Conn, *ServerInfo, error) {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		for _, server := range servers {
			if err := ctx.Err(); err != nil {
				return nil, nil, serviceUnavailable("connect", err)
			}

			conn, err := c.dialer.Dial(ctx, server)
			if err != nil {
				lastErr = err
				LogConnectionEvent(ctx, "connection_failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				continue
			}

			LogConnectionEvent(ctx, "connection_established", map[string]any{
				"server":  ServerInfoToURL(server),
				"attempt": attempt + 1,
				"source":  server.Source,
			})
			return conn, server, nil
		}

		if attempt < c.config.MaxRetries && lastErr != nil && IsRetryableError(NewLDAPError("connect", lastErr)) {
			select {
			case <-ctx.Done():
				return nil, nil, serviceUnavailable("connect", ctx.Err())
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
			}
			continue
		}
		break
	}

	LogConnectionEvent(ctx, "all_servers_failed", map[string]any{
		"server_count": len(servers),
	})

	if lastErr == nil {
		lastErr = fmt.Errorf("no directory servers available")
	}
	return nil, nil, serviceUnavailable("connect", lastErr)
}

func (c *Client) bind(ctx context.Context, conn Conn, server *ServerInfo, creds Credentials, login loginName) error {
	switch c.config.AuthMethod {
	case AuthMethodKerberos:
		return performKerberosBind(ctx, conn, c.config, server, creds.Username, creds.Password)
	default:
		return conn.Bind(login.bind, creds.Password)
	}
}

// searchUser finds the entry of the bound user.
func (c *Client) searchUser(ctx context.Context, conn Conn, login loginName) (*ldap.Entry, error) {
	timeLimit := int(c.config.SearchTimeout / time.Second)

	baseDN, scope, filter := c.config.BaseDN, ldap.ScopeWholeSubtree, userSearchFilter(login.account, login.principal)
	if login.dn {
		baseDN, scope, filter = login.bind, ldap.ScopeBaseObject, "(&(objectCategory=person)(objectClass=user))"
	}

	req := ldap.NewSearchRequest(
		baseDN,
		scope,
		ldap.NeverDerefAliases,
		0,
		timeLimit,
		false,
		filter,
		userAttributes,
		nil,
	)

	tflog.SubsystemTrace(ctx, Subsystem, "Searching for user entry", map[string]any{
		"base_dn": baseDN,
		"filter":  filter,
	})

	result, err := conn.Search(req)
	if err != nil {
		var resultErr *ldap.Error
		if errors.As(err, &resultErr) && resultErr.ResultCode == ldap.LDAPResultNoSuchObject {
			return nil, fmt.Errorf("%w: %w", ErrUserNotFound, WrapError("search", err))
		}
		LogLDAPError(ctx, Subsystem, "search", err, map[string]any{"base_dn": baseDN})
		return nil, serviceUnavailable("search", err)
	}

	entry := selectUserEntry(result.Entries, login.account, login.principal)
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, login.account)
	}

	return entry, nil
}

// loginName holds the forms of a login used for binding and searching.
type loginName struct {
	bind      string // identity presented to the directory
	account   string // sAMAccountName candidate
	principal string // userPrincipalName candidate
	dn        bool   // login was a distinguished name
}

// parseLogin derives the bind identity and search keys from a username.
// Bare usernames get the account suffix appended; "user@domain", "DOMAIN\user" and DNs are used as given.
func parseLogin(username, accountSuffix string) loginName {
	if strings.Contains(username, "=") && ValidateDNSyntax(username) == nil {
		account, err := ExtractRDNValue(username, "CN")
		if err != nil {
			account = username
		}
		return loginName{bind: username, account: account, principal: username, dn: true}
	}

	if user, _, found := strings.Cut(username, "@"); found {
		return loginName{bind: username, account: user, principal: username}
	}

	if _, user, found := strings.Cut(username, `\`); found {
		return loginName{bind: username, account: user, principal: withSuffix(user, accountSuffix)}
	}

	return loginName{
		bind:      username + accountSuffix,
		account:   username,
		principal: withSuffix(username, accountSuffix),
	}
}

// withSuffix appends the account suffix when it has UPN form.
func withSuffix(user, accountSuffix string) string {
	if strings.HasPrefix(accountSuffix, "@") {
		return user + accountSuffix
	}
	return user
}

// netDialer opens real LDAP connections.
type netDialer struct {
	config *ConnectionConfig
}

func (d *netDialer) Dial(ctx context.Context, server *ServerInfo) (Conn, error) {
	address := net.JoinHostPort(server.Host, strconv.Itoa(server.Port))

	dialer := &net.Dialer{Timeout: d.config.ConnectTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, ldap.NewError(ldap.ErrorNetwork, fmt.Errorf("failed to connect to %s: %w", address, err))
	}

	if server.UseTLS {
		tlsConn := tls.Client(netConn, d.tlsConfig(server.Host))

		handshakeCtx, cancel := context.WithTimeout(ctx, d.connectTimeout())
		err := tlsConn.HandshakeContext(handshakeCtx)
		cancel()
		if err != nil {
			netConn.Close()
			return nil, ldap.NewError(ldap.ErrorNetwork, fmt.Errorf("TLS handshake with %s failed: %w", address, err))
		}
		netConn = tlsConn
	}

	conn := ldap.NewConn(netConn, server.UseTLS)
	conn.Start()

	if !server.UseTLS && d.config.StartTLS {
		if err := conn.StartTLS(d.tlsConfig(server.Host)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS with %s failed: %w", address, err)
		}
	}

	if d.config.SearchTimeout > 0 {
		conn.SetTimeout(d.config.SearchTimeout)
	}

	return ldapConn{Conn: conn}, nil
}

func (d *netDialer) tlsConfig(host string) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.config.TLSConfig != nil {
		cfg = d.config.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

func (d *netDialer) connectTimeout() time.Duration {
	if d.config.ConnectTimeout > 0 {
		return d.config.ConnectTimeout
	}
	return DefaultConfig().ConnectTimeout
}

// ldapConn adapts *ldap.Conn to Conn.
type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() {
	c.Conn.Close()
}
