package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
)

// performKerberosBind binds the connection with a GSSAPI ticket obtained from the user's password.
func performKerberosBind(ctx context.Context, conn Conn, cfg *ConnectionConfig, serverInfo *ServerInfo, username, password string) error {
	principal, realm, err := splitKerberosPrincipal(username, cfg.KerberosRealm)
	if err != nil {
		return err
	}

	gssapiClient, err := createGSSAPIClient(cfg, principal, realm, password)
	if err != nil {
		LogKerberosEvent(ctx, "client_creation_failed", map[string]any{
			"principal": principal,
			"realm":     realm,
			"error":     err.Error(),
		})
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		LogKerberosEvent(ctx, "gssapi_bind_failed", map[string]any{
			"principal": principal,
			"realm":     realm,
			"spn":       spn,
			"error":     err.Error(),
		})
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	LogKerberosEvent(ctx, "gssapi_bind_succeeded", map[string]any{
		"principal": principal,
		"realm":     realm,
		"spn":       spn,
	})

	return nil
}

// createGSSAPIClient creates a password-based GSSAPI client. An explicit krb5.conf is
// used when configured; otherwise a configuration naming the domain controllers as KDCs is generated.
func createGSSAPIClient(cfg *ConnectionConfig, principal, realm, password string) (*gssapi.Client, error) {
	if cfg.KerberosConfig != "" {
		if !fileExists(cfg.KerberosConfig) {
			return nil, fmt.Errorf("kerberos configuration file not found at %s", cfg.KerberosConfig)
		}
		return gssapi.NewClientWithPassword(principal, realm, password, cfg.KerberosConfig, krb5client.DisablePAFXFAST(true))
	}

	krb5conf, err := krb5config.NewFromString(generateRuntimeKrb5Conf(cfg, realm))
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated krb5 configuration: %w", err)
	}

	return &gssapi.Client{
		Client: krb5client.NewWithPassword(principal, realm, password, krb5conf, krb5client.DisablePAFXFAST(true)),
	}, nil
}

// splitKerberosPrincipal separates "user@REALM" into principal and realm, falling back to the configured realm.
func splitKerberosPrincipal(username, defaultRealm string) (string, string, error) {
	principal, realm := username, defaultRealm

	if user, domain, found := strings.Cut(username, "@"); found {
		principal = user
		if realm == "" {
			realm = domain
		}
	}
	if _, user, found := strings.Cut(principal, `\`); found {
		principal = user
	}

	if principal == "" {
		return "", "", fmt.Errorf("username (principal) is required for Kerberos authentication")
	}
	if realm == "" {
		return "", "", fmt.Errorf("kerberos realm is required (set kerberos.realm or include realm in username)")
	}

	return principal, strings.ToUpper(realm), nil
}

// buildServicePrincipal constructs the LDAP service principal name from server info.
// If cfg.KerberosSPN is set, it overrides the automatic SPN construction.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil || serverInfo.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}

	return fmt.Sprintf("ldap/%s", serverInfo.Host), nil
}

// generateRuntimeKrb5Conf generates a krb5.conf for the realm. Configured domain controllers
// double as KDCs; without them the KDCs are discovered through DNS.
func generateRuntimeKrb5Conf(cfg *ConnectionConfig, realm string) string {
	var kdcs []string
	for _, controller := range cfg.DomainControllers {
		server, err := ParseDomainController(controller, cfg.UseTLS)
		if err != nil {
			continue
		}
		kdcs = append(kdcs, fmt.Sprintf("        kdc = %s:88", server.Host))
	}

	domain := strings.ToLower(realm)
	if cfg.Domain != "" {
		domain = strings.ToLower(cfg.Domain)
	}

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = %t
    dns_lookup_realm = false
    rdns = false
    udp_preference_limit = 1

[realms]
    %s = {
%s
    }

[domain_realm]
    .%s = %s
    %s = %s
`,
		realm,
		len(kdcs) == 0,
		realm,
		strings.Join(kdcs, "\n"),
		domain, realm,
		domain, realm,
	)
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

// Compile-time check that the go-ldap GSSAPI client satisfies the bind interface.
var _ ldap.GSSAPIClient = (*gssapi.Client)(nil)
