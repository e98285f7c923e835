/*
Package ldap authenticates users against Active Directory and maps their directory
entries into DirectoryUser records for local provisioning.

# Architecture Overview

  - Client: per-attempt connection, user bind and user search
  - Dialer: connection factory, replaceable in tests
  - Handlers: GUID and SID conversion for identifier mapping
  - Discovery: ordered domain controller list or DNS SRV discovery

# Connection Management

Every call to Client.Authenticate opens its own connection, binds with the
caller's credentials and closes the connection before returning. Connections are
never pooled or shared: a bound connection carries the identity of the user that
bound it.

Domain controllers are tried in configured order. A controller that cannot be
reached is skipped; a controller that rejects the credentials ends the attempt so
that a bad password is never replayed against every controller.

# Error Handling

Failures are reported as one of four sentinel errors, each wrapping an LDAPError
with the underlying detail:

  - ErrCredentialsMissing: empty username or password, no network call made
  - ErrInvalidCredentials: the directory rejected the bind
  - ErrUserNotFound: the bind succeeded but no user entry matched
  - ErrServiceUnavailable: transport, TLS, timeout or server failure

Callers match them with errors.Is and must never report ErrServiceUnavailable to
an end user as a wrong password.

# Example Usage

	config := ldap.DefaultConfig()
	config.DomainControllers = []string{"dc1.corp.example.org", "dc2.corp.example.org"}
	config.BaseDN = "DC=corp,DC=example,DC=org"
	config.AccountSuffix = "@corp.example.org"

	client, err := ldap.NewClient(config)
	if err != nil {
		return err
	}

	user, err := client.Authenticate(ctx, "jdoe", password)
	switch {
	case errors.Is(err, ldap.ErrServiceUnavailable):
		// retry later
	case err != nil:
		// reject
	}
*/
package ldap
