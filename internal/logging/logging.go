// Package logging configures the root logger and the per-package subsystems.
package logging

import (
	"context"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"

	"github.com/isometry/ad-auth-bridge/internal/auth"
	"github.com/isometry/ad-auth-bridge/internal/ldap"
	"github.com/isometry/ad-auth-bridge/internal/provision"
)

// HTTPSubsystem is the tflog subsystem used by the HTTP server.
const HTTPSubsystem = "http"

// LogName names the root logger.
const LogName = "adbridge"

// EnvLevelPrefix prefixes the per-subsystem level variables.
// Pattern: ADBRIDGE_LOG_<SUBSYSTEM>, e.g. ADBRIDGE_LOG_LDAP=TRACE
const EnvLevelPrefix = "ADBRIDGE_LOG"

// Subsystems lists every subsystem attached by WithSubsystems.
var Subsystems = []string{
	ldap.Subsystem,
	provision.Subsystem,
	auth.Subsystem,
	HTTPSubsystem,
}

// SensitiveKeys are field keys whose values are masked in every logger.
var SensitiveKeys = []string{
	"password",
	"secret",
	"session_secret",
	"token",
	"credential_fingerprint",
}

// NewContext returns ctx carrying a JSON root logger on stderr at level,
// with every subsystem attached.
func NewContext(ctx context.Context, level string) context.Context {
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName(LogName),
		tfsdklog.WithLevel(ParseLevel(level)),
	)
	return WithSubsystems(ctx)
}

// WithSubsystems attaches the subsystems and field masking to the root logger in ctx.
func WithSubsystems(ctx context.Context) context.Context {
	ctx = tflog.MaskFieldValuesWithFieldKeys(ctx, SensitiveKeys...)

	for _, subsystem := range Subsystems {
		ctx = tflog.NewSubsystem(ctx, subsystem,
			tflog.WithLevelFromEnv(EnvLevelPrefix, subsystem))
		ctx = tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, subsystem, SensitiveKeys...)
	}

	return ctx
}

// ParseLevel converts a configured level name, defaulting to INFO.
func ParseLevel(level string) hclog.Level {
	parsed := hclog.LevelFromString(strings.TrimSpace(level))
	if parsed == hclog.NoLevel {
		return hclog.Info
	}
	return parsed
}
