package config

import (
	"time"

	"github.com/target/sessionsync/internal/domain/session"
)

// SessionConfig is the synchronizer timing policy. Every value has a floor so a typo in the
// environment cannot disable retries or cooldowns.
type SessionConfig struct {
	RoleCacheTTL         time.Duration `env:"ROLE_CACHE_TTL"         envDefault:"12h"`
	RetryAttempts        int           `env:"RETRY_ATTEMPTS"         envDefault:"3"`
	AttemptTimeout       time.Duration `env:"ATTEMPT_TIMEOUT"        envDefault:"5s"`
	BackoffBase          time.Duration `env:"BACKOFF_BASE"           envDefault:"1s"`
	TokenRefreshCooldown time.Duration `env:"TOKEN_REFRESH_COOLDOWN" envDefault:"5s"`
	RecheckCooldown      time.Duration `env:"RECHECK_COOLDOWN"       envDefault:"1s"`
	VisibilityGrace      time.Duration `env:"VISIBILITY_GRACE"       envDefault:"2s"`
	TransientWindow      time.Duration `env:"TRANSIENT_WINDOW"       envDefault:"60s"`
	TransientRetryDelay  time.Duration `env:"TRANSIENT_RETRY_DELAY"  envDefault:"1s"`
	RecoveryWindow       time.Duration `env:"RECOVERY_WINDOW"        envDefault:"1h"`
	GuardTTL             time.Duration `env:"GUARD_TTL"              envDefault:"30s"`
	ActivityTTL          time.Duration `env:"ACTIVITY_TTL"           envDefault:"5m"`
	// RecheckInterval makes the agent recheck periodically. Zero disables it.
	RecheckInterval time.Duration `env:"RECHECK_INTERVAL" envDefault:"0"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	if s.RoleCacheTTL < time.Minute {
		s.RoleCacheTTL = time.Minute
	}
	if s.RetryAttempts < 1 {
		s.RetryAttempts = 1
	}
	if s.AttemptTimeout < 100*time.Millisecond {
		s.AttemptTimeout = 100 * time.Millisecond
	}
	if s.BackoffBase < 0 {
		s.BackoffBase = 0
	}
	clampMin(&s.TokenRefreshCooldown, 0)
	clampMin(&s.RecheckCooldown, 0)
	clampMin(&s.VisibilityGrace, 0)
	clampMin(&s.TransientWindow, 0)
	clampMin(&s.TransientRetryDelay, 0)
	clampMin(&s.RecoveryWindow, 0)
	if s.GuardTTL < time.Second {
		s.GuardTTL = time.Second
	}
	if s.ActivityTTL < time.Second {
		s.ActivityTTL = time.Second
	}
	if s.RecheckInterval > 0 && s.RecheckInterval < s.RecheckCooldown {
		s.RecheckInterval = s.RecheckCooldown
	}
	clampMin(&s.RecheckInterval, 0)
}

// CooldownWindows returns the per-signal cooldowns.
func (s SessionConfig) CooldownWindows() session.CooldownWindows {
	return session.CooldownWindows{
		session.SignalTokenRefresh: s.TokenRefreshCooldown,
		session.SignalRecheck:      s.RecheckCooldown,
		session.SignalVisibility:   s.VisibilityGrace,
	}
}

func clampMin(d *time.Duration, floor time.Duration) {
	if *d < floor {
		*d = floor
	}
}
