package auth

import (
	"net/http"
	"strings"
)

const (
	defaultUserHeader  = "X-Auth-User"
	defaultEmailHeader = "X-Auth-Email"
	defaultRolesHeader = "X-Auth-Roles"
)

type headerConfig struct {
	user  string
	email string
	roles string
}

// HeaderOption customises the trusted-header middleware.
type HeaderOption func(*headerConfig)

// WithUserHeader overrides the header carrying the authenticated user ID.
func WithUserHeader(name string) HeaderOption {
	return func(cfg *headerConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.user = trimmed
		}
	}
}

// WithEmailHeader overrides the header carrying the authenticated email.
func WithEmailHeader(name string) HeaderOption {
	return func(cfg *headerConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.email = trimmed
		}
	}
}

// WithRolesHeader overrides the header carrying the comma-separated role list.
func WithRolesHeader(name string) HeaderOption {
	return func(cfg *headerConfig) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			cfg.roles = trimmed
		}
	}
}

// HeaderMiddleware builds identities from headers the edge proxy verified
// upstream. Requests without the user header continue anonymously; role
// enforcement stays with RequireRoles on the protected route groups.
func HeaderMiddleware(opts ...HeaderOption) func(http.Handler) http.Handler {
	cfg := headerConfig{
		user:  defaultUserHeader,
		email: defaultEmailHeader,
		roles: defaultRolesHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get(cfg.user))
			if uid == "" {
				next.ServeHTTP(w, r)
				return
			}
			identity := &Identity{
				UID:   uid,
				Email: strings.TrimSpace(r.Header.Get(cfg.email)),
				Roles: splitRoles(r.Header.Get(cfg.roles)),
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func splitRoles(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{RoleUser}
	}
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	roles := make([]string, 0, len(parts))
	for _, part := range parts {
		role := strings.ToLower(strings.TrimSpace(part))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return []string{RoleUser}
	}
	return roles
}
