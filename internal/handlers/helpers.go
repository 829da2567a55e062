package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/warpweft/api/internal/domain"
	"github.com/warpweft/api/internal/platform/auth"
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// actorFromIdentity maps the authenticated identity onto the domain actor.
func actorFromIdentity(identity *auth.Identity) domain.Actor {
	if identity == nil {
		return domain.Actor{}
	}
	role := domain.ActorRoleUser
	if identity.IsAdmin() {
		role = domain.ActorRoleAdmin
	}
	return domain.Actor{UserID: strings.TrimSpace(identity.UID), Role: role}
}

func parseStatusFilters(values []string) []domain.OrderStatus {
	if len(values) == 0 {
		return nil
	}
	out := make([]domain.OrderStatus, 0, len(values))
	seen := make(map[domain.OrderStatus]struct{})
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(part)))
			if status == "" {
				continue
			}
			if _, ok := seen[status]; ok {
				continue
			}
			seen[status] = struct{}{}
			out = append(out, status)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
