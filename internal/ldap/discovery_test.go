package ldap

import (
	"context"
	"net"
	"testing"
	"time"
)

type fakeResolver struct {
	records map[string][]*net.SRV
}

func (r *fakeResolver) LookupSRV(_ context.Context, _, _, name string) (string, []*net.SRV, error) {
	records, ok := r.records[name]
	if !ok {
		return "", nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
	}
	return name, records, nil
}

func TestSRVDiscovery_DiscoverServers(t *testing.T) {
	tests := []struct {
		name      string
		domain    string
		records   map[string][]*net.SRV
		wantErr   bool
		wantHosts []string
		wantTLS   bool
		source    string
	}{
		{
			name:    "empty domain",
			domain:  "",
			wantErr: true,
		},
		{
			name:   "ldaps records preferred",
			domain: "example.com",
			records: map[string][]*net.SRV{
				"_ldaps._tcp.example.com": {
					{Target: "dc2.example.com.", Port: 636, Priority: 10, Weight: 50},
					{Target: "dc1.example.com.", Port: 636, Priority: 0, Weight: 100},
				},
				"_ldap._tcp.example.com": {
					{Target: "dc3.example.com.", Port: 389, Priority: 0, Weight: 100},
				},
			},
			wantHosts: []string{"dc1.example.com", "dc2.example.com"},
			wantTLS:   true,
			source:    "srv",
		},
		{
			name:   "ldap records when no ldaps",
			domain: "example.com",
			records: map[string][]*net.SRV{
				"_ldap._tcp.example.com": {
					{Target: "dc3.example.com.", Port: 389, Priority: 0, Weight: 100},
				},
			},
			wantHosts: []string{"dc3.example.com"},
			wantTLS:   false,
			source:    "srv",
		},
		{
			name:      "fallback to domain",
			domain:    "nonexistent.invalid.domain.test",
			records:   map[string][]*net.SRV{},
			wantHosts: []string{"nonexistent.invalid.domain.test", "nonexistent.invalid.domain.test"},
			wantTLS:   true,
			source:    "fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discovery := &SRVDiscovery{resolver: &fakeResolver{records: tt.records}}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			servers, err := discovery.DiscoverServers(ctx, tt.domain)

			if tt.wantErr {
				if err == nil {
					t.Errorf("DiscoverServers() expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("DiscoverServers() unexpected error: %v", err)
			}

			if len(servers) != len(tt.wantHosts) {
				t.Fatalf("DiscoverServers() got %d servers, want %d", len(servers), len(tt.wantHosts))
			}

			for i, server := range servers {
				if err := ValidateServerInfo(server); err != nil {
					t.Errorf("Server %d validation failed: %v", i, err)
				}
				if server.Host != tt.wantHosts[i] {
					t.Errorf("Server %d host = %s, want %s", i, server.Host, tt.wantHosts[i])
				}
				if server.Source != tt.source {
					t.Errorf("Server %d source = %s, want %s", i, server.Source, tt.source)
				}
			}

			if servers[0].UseTLS != tt.wantTLS {
				t.Errorf("First server UseTLS = %v, want %v", servers[0].UseTLS, tt.wantTLS)
			}
		})
	}
}

func TestParseDomainController(t *testing.T) {
	tests := []struct {
		name       string
		controller string
		useTLS     bool
		wantHost   string
		wantPort   int
		wantTLS    bool
		wantErr    bool
	}{
		{
			name:       "bare host with TLS",
			controller: "dc1.corp.example.org",
			useTLS:     true,
			wantHost:   "dc1.corp.example.org",
			wantPort:   636,
			wantTLS:    true,
		},
		{
			name:       "bare host without TLS",
			controller: "dc1.corp.example.org",
			wantHost:   "dc1.corp.example.org",
			wantPort:   389,
		},
		{
			name:       "IP address with port",
			controller: "192.0.2.10:3269",
			useTLS:     true,
			wantHost:   "192.0.2.10",
			wantPort:   3269,
			wantTLS:    true,
		},
		{
			name:       "IPv6 address",
			controller: "[2001:db8::10]:389",
			wantHost:   "2001:db8::10",
			wantPort:   389,
		},
		{
			name:       "URL overrides TLS default",
			controller: "ldap://dc2.corp.example.org",
			useTLS:     true,
			wantHost:   "dc2.corp.example.org",
			wantPort:   389,
		},
		{
			name:       "surrounding whitespace",
			controller: "  dc3.corp.example.org ",
			useTLS:     true,
			wantHost:   "dc3.corp.example.org",
			wantPort:   636,
			wantTLS:    true,
		},
		{
			name:       "empty",
			controller: "  ",
			wantErr:    true,
		},
		{
			name:       "invalid port",
			controller: "dc1.corp.example.org:ldap",
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDomainController(tt.controller, tt.useTLS)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDomainController() expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseDomainController() unexpected error: %v", err)
			}

			if got.Host != tt.wantHost || got.Port != tt.wantPort || got.UseTLS != tt.wantTLS {
				t.Errorf("ParseDomainController() = %+v, want host=%s port=%d tls=%v", got, tt.wantHost, tt.wantPort, tt.wantTLS)
			}
		})
	}
}

func TestParseLDAPURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    *ServerInfo
		wantErr bool
	}{
		{
			name: "ldaps with port",
			url:  "ldaps://dc1.example.com:636",
			want: &ServerInfo{
				Host:     "dc1.example.com",
				Port:     636,
				UseTLS:   true,
				Priority: 0,
				Weight:   100,
				Source:   "config",
			},
			wantErr: false,
		},
		{
			name: "ldap with port",
			url:  "ldap://dc1.example.com:389",
			want: &ServerInfo{
				Host:     "dc1.example.com",
				Port:     389,
				UseTLS:   false,
				Priority: 0,
				Weight:   100,
				Source:   "config",
			},
			wantErr: false,
		},
		{
			name: "ldaps without port",
			url:  "ldaps://dc1.example.com",
			want: &ServerInfo{
				Host:     "dc1.example.com",
				Port:     636,
				UseTLS:   true,
				Priority: 0,
				Weight:   100,
				Source:   "config",
			},
			wantErr: false,
		},
		{
			name: "ldap without port",
			url:  "ldap://dc1.example.com",
			want: &ServerInfo{
				Host:     "dc1.example.com",
				Port:     389,
				UseTLS:   false,
				Priority: 0,
				Weight:   100,
				Source:   "config",
			},
			wantErr: false,
		},
		{
			name:    "empty URL",
			url:     "",
			want:    nil,
			wantErr: true,
		},
		{
			name:    "invalid scheme",
			url:     "https://dc1.example.com",
			want:    nil,
			wantErr: true,
		},
		{
			name:    "invalid port",
			url:     "ldap://dc1.example.com:abc",
			want:    nil,
			wantErr: true,
		},
		{
			name: "URL with base DN",
			url:  "ldaps://dc1.example.com:636/DC=example,DC=com",
			want: &ServerInfo{
				Host:   "dc1.example.com",
				Port:   636,
				UseTLS: true,
				Source: "config",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLDAPURL(tt.url)

			if tt.wantErr && err == nil {
				t.Errorf("ParseLDAPURL() expected error but got none")
				return
			}

			if !tt.wantErr && err != nil {
				t.Errorf("ParseLDAPURL() unexpected error: %v", err)
				return
			}

			if !tt.wantErr && got != nil && tt.want != nil {
				if got.Host != tt.want.Host ||
					got.Port != tt.want.Port ||
					got.UseTLS != tt.want.UseTLS ||
					got.Source != tt.want.Source {
					t.Errorf("ParseLDAPURL() = %+v, want %+v", got, tt.want)
				}
			}
		})
	}
}

func TestValidateServerInfo(t *testing.T) {
	tests := []struct {
		name    string
		server  *ServerInfo
		wantErr bool
	}{
		{
			name: "valid server",
			server: &ServerInfo{
				Host:     "dc1.example.com",
				Port:     636,
				UseTLS:   true,
				Priority: 0,
				Weight:   100,
				Source:   "config",
			},
			wantErr: false,
		},
		{
			name:    "nil server",
			server:  nil,
			wantErr: true,
		},
		{
			name: "empty host",
			server: &ServerInfo{
				Host:   "",
				Port:   636,
				UseTLS: true,
			},
			wantErr: true,
		},
		{
			name: "invalid port - zero",
			server: &ServerInfo{
				Host:   "dc1.example.com",
				Port:   0,
				UseTLS: true,
			},
			wantErr: true,
		},
		{
			name: "invalid port - too high",
			server: &ServerInfo{
				Host:   "dc1.example.com",
				Port:   70000,
				UseTLS: true,
			},
			wantErr: true,
		},
		{
			name: "negative priority",
			server: &ServerInfo{
				Host:     "dc1.example.com",
				Port:     636,
				Priority: -1,
				Weight:   100,
			},
			wantErr: true,
		},
		{
			name: "negative weight",
			server: &ServerInfo{
				Host:     "dc1.example.com",
				Port:     636,
				Priority: 0,
				Weight:   -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateServerInfo(tt.server)

			if tt.wantErr && err == nil {
				t.Errorf("ValidateServerInfo() expected error but got none")
			}

			if !tt.wantErr && err != nil {
				t.Errorf("ValidateServerInfo() unexpected error: %v", err)
			}
		})
	}
}

func TestServerInfoToURL(t *testing.T) {
	tests := []struct {
		name   string
		server *ServerInfo
		want   string
	}{
		{
			name: "ldaps server",
			server: &ServerInfo{
				Host:   "dc1.example.com",
				Port:   636,
				UseTLS: true,
			},
			want: "ldaps://dc1.example.com:636",
		},
		{
			name: "ldap server",
			server: &ServerInfo{
				Host:   "dc1.example.com",
				Port:   389,
				UseTLS: false,
			},
			want: "ldap://dc1.example.com:389",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ServerInfoToURL(tt.server)
			if got != tt.want {
				t.Errorf("ServerInfoToURL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortServersByPriority(t *testing.T) {
	discovery := NewSRVDiscovery()

	servers := []*ServerInfo{
		{Host: "dc3", Priority: 2, Weight: 50},
		{Host: "dc1", Priority: 1, Weight: 100},
		{Host: "dc2", Priority: 1, Weight: 50},
		{Host: "dc4", Priority: 0, Weight: 100},
	}

	discovery.sortServersByPriority(servers)

	// Should be sorted by priority first, then by weight (descending)
	expected := []string{"dc4", "dc1", "dc2", "dc3"}

	for i, server := range servers {
		if server.Host != expected[i] {
			t.Errorf("Position %d: got %s, want %s", i, server.Host, expected[i])
		}
	}

	// Verify priority ordering
	if servers[0].Priority != 0 {
		t.Errorf("First server priority = %d, want 0", servers[0].Priority)
	}

	if servers[len(servers)-1].Priority != 2 {
		t.Errorf("Last server priority = %d, want 2", servers[len(servers)-1].Priority)
	}
}
