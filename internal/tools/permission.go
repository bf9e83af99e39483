package tools

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/haasonsaas/sidekick/internal/config"
)

// DecisionAction is the permission gate's verdict for one tool call.
type DecisionAction string

const (
	DecisionGrant DecisionAction = "grant"
	DecisionDeny  DecisionAction = "deny"
)

// Decision is the resolved permission outcome. Grants carry a signed token
// whose ID lands in the audit trail.
type Decision struct {
	Action  DecisionAction
	Group   string
	Mode    string
	Reason  string
	Token   string
	TokenID string
}

// Granted reports whether the call may proceed.
func (d Decision) Granted() bool {
	return d.Action == DecisionGrant
}

// ApprovalRequest is what a Prompter sees when an "ask"-mode tool needs
// interactive approval.
type ApprovalRequest struct {
	Tool        string
	Group       string
	ArgsSummary string
}

// Prompter answers approval requests for "ask"-mode groups. A nil Prompter
// denies, which keeps headless runs safe.
type Prompter interface {
	Approve(ctx context.Context, req ApprovalRequest) (bool, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, req ApprovalRequest) (bool, error)

// Approve calls f.
func (f PrompterFunc) Approve(ctx context.Context, req ApprovalRequest) (bool, error) {
	return f(ctx, req)
}

const defaultGrantTTL = 5 * time.Minute

// GateConfig carries the settings the permission gate evaluates.
type GateConfig struct {
	Permissions config.PermissionsConfig

	// MemoryEnabled is the memory master switch. When false both memory
	// groups resolve to off no matter what the group config says.
	MemoryEnabled bool

	// Debug selects the default for tools outside every known group:
	// ask in debug, off in release.
	Debug bool
}

// Gate resolves permission decisions for tool calls. Group modes come from
// config; the developer override applies to the dangerous groups only and
// never touches memory. Approvals mint HS256 grant tokens cached per
// canonical tool until expiry.
type Gate struct {
	config   GateConfig
	registry *Registry
	prompter Prompter
	logger   *slog.Logger

	secret []byte
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	grants map[string]cachedGrant
}

type cachedGrant struct {
	token   string
	tokenID string
	expires time.Time
}

// NewGate builds a permission gate. When no grant secret is configured a
// random per-process secret is generated, so tokens do not survive restarts.
func NewGate(cfg GateConfig, registry *Registry, prompter Prompter, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = DefaultRegistry()
	}

	secret := []byte(cfg.Permissions.Grant.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			// crypto/rand failing means the platform is broken; fall back
			// to a time-derived secret rather than refuse to start.
			secret = []byte(fmt.Sprintf("sidekick-grant-%d", time.Now().UnixNano()))
		}
	}

	ttl := cfg.Permissions.Grant.TTL
	if ttl <= 0 {
		ttl = defaultGrantTTL
	}

	return &Gate{
		config:   cfg,
		registry: registry,
		prompter: prompter,
		logger:   logger.With("component", "permissions"),
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		grants:   make(map[string]cachedGrant),
	}
}

// Check resolves the permission decision for one tool call. The tool name
// is canonicalized before lookup.
func (g *Gate) Check(ctx context.Context, tool, argsSummary string) Decision {
	canonical := CanonicalName(tool)
	group, known := g.registry.Group(canonical)

	if known && group == "" {
		// Meta tools are never gated.
		return g.grant(canonical, "", config.PermissionAlways, "ungated tool")
	}

	mode := g.effectiveMode(group, known)
	switch mode {
	case config.PermissionAlways:
		return g.grant(canonical, group, mode, "group allows all calls")

	case config.PermissionAsk:
		return g.askApproval(ctx, canonical, group, argsSummary)

	default:
		return Decision{
			Action: DecisionDeny,
			Group:  group,
			Mode:   config.PermissionOff,
			Reason: g.denyReason(canonical, group, known),
		}
	}
}

// Invalidate drops any cached grant for a tool, forcing the next "ask"-mode
// call back through the prompter.
func (g *Gate) Invalidate(tool string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.grants, CanonicalName(tool))
}

// Reset clears every cached grant.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grants = make(map[string]cachedGrant)
}

// effectiveMode resolves the mode for a group, applying the memory master
// switch, the developer override, and the unknown-group default in that
// order of precedence.
func (g *Gate) effectiveMode(group string, known bool) string {
	if !known || group == "" {
		if g.config.Debug {
			return config.PermissionAsk
		}
		return config.PermissionOff
	}

	if group == config.GroupMemoryRead || group == config.GroupMemoryWrite {
		if !g.config.MemoryEnabled {
			return config.PermissionOff
		}
		// The developer override never reaches the memory groups.
		return g.configuredMode(group)
	}

	if config.DangerousGroups[group] {
		switch g.config.Permissions.DeveloperOverride {
		case config.OverrideAlways:
			return config.PermissionAlways
		case config.OverrideOff:
			return config.PermissionOff
		}
	}
	return g.configuredMode(group)
}

func (g *Gate) configuredMode(group string) string {
	mode, ok := g.config.Permissions.Groups[group]
	if !ok || mode == "" {
		if g.config.Debug {
			return config.PermissionAsk
		}
		return config.PermissionOff
	}
	return mode
}

func (g *Gate) denyReason(tool, group string, known bool) string {
	switch {
	case !known:
		return fmt.Sprintf("tool %s is not in any permission group", tool)
	case group == config.GroupMemoryRead || group == config.GroupMemoryWrite:
		if !g.config.MemoryEnabled {
			return "memory is disabled"
		}
		return fmt.Sprintf("permission group %s is off", group)
	default:
		return fmt.Sprintf("permission group %s is off", group)
	}
}

func (g *Gate) askApproval(ctx context.Context, canonical, group, argsSummary string) Decision {
	if grant, ok := g.cachedGrantFor(canonical); ok {
		return Decision{
			Action:  DecisionGrant,
			Group:   group,
			Mode:    config.PermissionAsk,
			Reason:  "approval cached",
			Token:   grant.token,
			TokenID: grant.tokenID,
		}
	}

	if g.prompter == nil {
		return Decision{
			Action: DecisionDeny,
			Group:  group,
			Mode:   config.PermissionAsk,
			Reason: "approval required and no approver is available",
		}
	}

	approved, err := g.prompter.Approve(ctx, ApprovalRequest{
		Tool:        canonical,
		Group:       group,
		ArgsSummary: argsSummary,
	})
	if err != nil {
		g.logger.Warn("approval prompt failed", "tool", canonical, "error", err)
		return Decision{
			Action: DecisionDeny,
			Group:  group,
			Mode:   config.PermissionAsk,
			Reason: fmt.Sprintf("approval failed: %v", err),
		}
	}
	if !approved {
		return Decision{
			Action: DecisionDeny,
			Group:  group,
			Mode:   config.PermissionAsk,
			Reason: "approval denied",
		}
	}
	return g.grant(canonical, group, config.PermissionAsk, "approved")
}

// grant returns a granting decision backed by a cached or freshly minted
// token.
func (g *Gate) grant(canonical, group, mode, reason string) Decision {
	d := Decision{Action: DecisionGrant, Group: group, Mode: mode, Reason: reason}

	if grant, ok := g.cachedGrantFor(canonical); ok {
		d.Token = grant.token
		d.TokenID = grant.tokenID
		return d
	}

	token, tokenID, err := g.mint(canonical, group)
	if err != nil {
		// Minting failures never block a granted call; the audit trail
		// just loses its token reference.
		g.logger.Warn("grant token mint failed", "tool", canonical, "error", err)
		return d
	}

	g.mu.Lock()
	g.grants[canonical] = cachedGrant{token: token, tokenID: tokenID, expires: g.now().Add(g.ttl)}
	g.mu.Unlock()

	d.Token = token
	d.TokenID = tokenID
	return d
}

func (g *Gate) cachedGrantFor(canonical string) (cachedGrant, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	grant, ok := g.grants[canonical]
	if !ok {
		return cachedGrant{}, false
	}
	if g.now().After(grant.expires) {
		delete(g.grants, canonical)
		return cachedGrant{}, false
	}
	return grant, true
}

type grantClaims struct {
	Group string `json:"group,omitempty"`
	jwt.RegisteredClaims
}

// mint signs a grant token for the tool. The jti is what audit events log
// as permission_token_id.
func (g *Gate) mint(canonical, group string) (token, tokenID string, err error) {
	now := g.now()
	tokenID = uuid.NewString()
	claims := grantClaims{
		Group: group,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   canonical,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign grant token: %w", err)
	}
	return signed, tokenID, nil
}

// Grant is the verified content of a grant token.
type Grant struct {
	TokenID   string
	Tool      string
	Group     string
	ExpiresAt time.Time
}

var errInvalidGrant = errors.New("invalid grant token")

// ValidateGrant parses and verifies a grant token minted by this gate.
func (g *Gate) ValidateGrant(token string) (*Grant, error) {
	parsed, err := jwt.ParseWithClaims(token, &grantClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil {
		return nil, errInvalidGrant
	}
	claims, ok := parsed.Claims.(*grantClaims)
	if !ok || !parsed.Valid {
		return nil, errInvalidGrant
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errInvalidGrant
	}
	grant := &Grant{
		TokenID: claims.ID,
		Tool:    claims.Subject,
		Group:   claims.Group,
	}
	if claims.ExpiresAt != nil {
		grant.ExpiresAt = claims.ExpiresAt.Time
	}
	return grant, nil
}
