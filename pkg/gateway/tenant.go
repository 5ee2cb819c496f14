package gateway

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/atriumhq/atrium/pkg/tokens"
)

// TenantHintHeader carries a best-effort tenant hint on public routes.
const TenantHintHeader = "X-Atrium-Tenant"

// TenantResolver resolves the tenant a request acts for. Private routes
// require a verified plugin token; public routes accept an unverified
// header hint.
type TenantResolver struct {
	tokens *tokens.Manager
}

// NewTenantResolver creates a resolver backed by the token manager.
func NewTenantResolver(manager *tokens.Manager) *TenantResolver {
	return &TenantResolver{tokens: manager}
}

// Resolve returns the tenant for the request, whether it resolved, and
// whether it was verified. On a private route only a bearer token scoped to
// pluginID resolves; on a public route the hint header is enough.
func (t *TenantResolver) Resolve(r *http.Request, pluginID string, public bool) (tenantID int64, ok, verified bool) {
	if secret := bearerSecret(r); secret != "" && t.tokens != nil {
		token, err := t.tokens.Verify(secret)
		if err == nil && token.PluginID == pluginID {
			return token.TenantID, true, true
		}
	}

	if !public {
		return 0, false, false
	}

	hint := r.Header.Get(TenantHintHeader)
	if hint == "" {
		return 0, false, false
	}
	tenantID, err := strconv.ParseInt(hint, 10, 64)
	if err != nil || tenantID <= 0 {
		return 0, false, false
	}
	return tenantID, true, false
}

func bearerSecret(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}
