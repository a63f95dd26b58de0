// Package gateway mounts a policy-enforcing JSON-RPC tool endpoint over
// HTTP. Each tools/call request is checked against the per-tool auth policy
// before the tool body runs; rejected calls are answered with one of the two
// challenge encodings, and the protected resource metadata document is
// served alongside the endpoint for challenged callers to discover the
// authorization server.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/mcpauth/authgate/auth"
	"github.com/mcpauth/authgate/fileref"
	"github.com/mcpauth/authgate/internal/jsonrpc"
	"github.com/mcpauth/authgate/internal/logctx"
	"github.com/mcpauth/authgate/policy"
	"github.com/mcpauth/authgate/wellknown"
)

var _ http.Handler = (*Handler)(nil)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	authorizationHeader   = "Authorization"
	wwwAuthenticateHeader = "WWW-Authenticate"

	// Method names on the wire.
	methodToolsCall = "tools/call"
	methodToolsList = "tools/list"

	// errorCodeAuthRequired is the JSON-RPC error code paired with header
	// challenges so callers that only see the body can still classify the
	// rejection.
	errorCodeAuthRequired jsonrpc.ErrorCode = -32001
)

// ChallengeMode selects how rejected calls are encoded. It is a deployment
// decision, not runtime negotiation.
type ChallengeMode int

const (
	// ChallengeModeHeader answers rejections at the HTTP layer: 401/400/403
	// with a WWW-Authenticate Bearer challenge.
	ChallengeModeHeader ChallengeMode = iota
	// ChallengeModeInline answers rejections inside an otherwise successful
	// response: a 200 tools/call result flagged isError with a structured
	// hint carrying the same discovery pointer.
	ChallengeModeInline
)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	serverName     string
	logger         *slog.Logger
	securityConfig *auth.SecurityConfig
	realm          string
	mode           ChallengeMode
	resolver       *fileref.Resolver
	allowedOrigins []string
}

// WithServerName sets a human-readable name surfaced in the resource
// metadata document.
func WithServerName(name string) Option {
	return func(c *newConfig) { c.serverName = name }
}

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(log *slog.Logger) Option {
	return func(c *newConfig) { c.logger = log }
}

// WithSecurityConfig provides an explicit security configuration for
// metadata advertisement, overriding anything inferred from the
// authenticator.
func WithSecurityConfig(sc auth.SecurityConfig) Option {
	return func(c *newConfig) { cc := sc.Copy(); c.securityConfig = &cc }
}

// WithRealm sets the realm echoed in WWW-Authenticate challenges. Empty
// (the default) omits the attribute per RFC 6750.
func WithRealm(realm string) Option {
	return func(c *newConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithChallengeMode selects the challenge encoding. Default is header mode.
func WithChallengeMode(mode ChallengeMode) Option {
	return func(c *newConfig) { c.mode = mode }
}

// WithFileResolver installs a resolver applied to file references in tool
// results before responses are written.
func WithFileResolver(r *fileref.Resolver) Option {
	return func(c *newConfig) { c.resolver = r }
}

// WithAllowedOrigins enables CORS on the tool endpoint for the given
// origins. "*" allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(c *newConfig) { c.allowedOrigins = append([]string(nil), origins...) }
}

// Handler is the policy-enforcing tool endpoint.
type Handler struct {
	mux         *http.ServeMux
	log         *slog.Logger
	endpoint    *url.URL
	metadataURL *url.URL

	registry *Registry
	table    *policy.Table
	enforcer *policy.Enforcer
	resolver *fileref.Resolver

	mode           ChallengeMode
	allowedOrigins []string
}

// New constructs a Handler.
//
// Required:
//   - publicEndpoint: externally visible URL of the tool endpoint
//   - registry: the tool set to dispatch to
//   - table: per-tool auth policy (unknown tools are treated as required)
//   - authenticator: token validator; may be nil only when every registered
//     policy is open
//
// Metadata advertisement resolution order: explicit WithSecurityConfig,
// then a SecurityDescriptor implemented by the authenticator. Without
// either, challenges still point at the metadata URL but nothing serves the
// document there; configure one for discovery to work end to end.
func New(publicEndpoint string, registry *Registry, table *policy.Table, authenticator auth.Authenticator, opts ...Option) (*Handler, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if table == nil {
		return nil, fmt.Errorf("policy table is required")
	}

	endpoint, err := url.Parse(publicEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", publicEndpoint, err)
	}
	if endpoint.Scheme != "https" && endpoint.Scheme != "http" {
		return nil, fmt.Errorf("endpoint URL must use HTTP or HTTPS scheme, got %q", endpoint.Scheme)
	}

	cfg := &newConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	var resolved *auth.SecurityConfig
	if cfg.securityConfig != nil {
		cc := cfg.securityConfig.Copy()
		resolved = &cc
	}
	if resolved == nil && authenticator != nil {
		if sd, ok := authenticator.(auth.SecurityDescriptor); ok {
			cc := sd.SecurityConfig().Copy()
			resolved = &cc
		}
	}

	h := &Handler{
		log:            slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		endpoint:       endpoint,
		metadataURL:    wellknown.DocumentURL(endpoint),
		registry:       registry,
		table:          table,
		resolver:       cfg.resolver,
		mode:           cfg.mode,
		allowedOrigins: cfg.allowedOrigins,
	}

	h.enforcer, err = policy.NewEnforcer(table, authenticator, h.metadataURL.String(), policy.WithRealm(cfg.realm))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", pathOnly(endpoint)), h.handlePost)
	mux.HandleFunc(fmt.Sprintf("OPTIONS %s", pathOnly(endpoint)), h.handlePreflight)

	if resolved != nil && resolved.Advertise {
		doc, err := wellknown.NewDocument(endpoint, *resolved, cfg.serverName)
		if err != nil {
			return nil, err
		}
		docHandler := wellknown.Handler(doc)
		for _, p := range wellknown.MuxPaths(h.metadataURL) {
			mux.Handle(p, docHandler)
		}
	}

	h.mux = mux
	return h, nil
}

// MetadataURL returns the absolute URL of the protected resource metadata
// document advertised in challenges.
func (h *Handler) MetadataURL() string { return h.metadataURL.String() }

func pathOnly(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func (h *Handler) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if !h.applyCORS(w, r) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
	w.Header().Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
}

// applyCORS sets the allow-origin header when the request origin is
// permitted. Returns false only when an origin was presented and rejected.
func (h *Handler) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			return true
		}
		if allowed == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			return true
		}
	}
	return false
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	if !h.applyCORS(w, r) {
		h.log.WarnContext(ctx, "cors.origin.rejected", slog.String("origin", r.Header.Get("Origin")))
		w.WriteHeader(http.StatusForbidden)
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		w.WriteHeader(http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.WarnContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		h.writeRPCResponse(ctx, w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "failed to read request body", nil))
		return
	}

	req, err := jsonrpc.DecodeRequest(body)
	if err != nil {
		h.log.WarnContext(ctx, "rpc.decode.fail", slog.String("err", err.Error()))
		h.writeRPCResponse(ctx, w, http.StatusBadRequest,
			jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil))
		return
	}

	msgType := "request"
	if req.IsNotification() {
		msgType = "notification"
	}
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: req.Method,
		ID:     req.ID.String(),
		Type:   msgType,
	})

	switch req.Method {
	case methodToolsList:
		h.handleToolsList(ctx, w, req)
	case methodToolsCall:
		h.handleToolsCall(ctx, w, r, req, start)
	default:
		h.log.InfoContext(ctx, "rpc.method.unknown")
		h.writeRPCResponse(ctx, w, http.StatusOK,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method), nil))
	}
}

func (h *Handler) handleToolsList(ctx context.Context, w http.ResponseWriter, req *jsonrpc.Request) {
	resp, err := jsonrpc.NewResultResponse(req.ID, map[string]any{"tools": h.registry.List()})
	if err != nil {
		h.log.ErrorContext(ctx, "tools.list.encode.fail", slog.String("err", err.Error()))
		h.writeRPCResponse(ctx, w, http.StatusOK,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode tool list", nil))
		return
	}
	h.writeRPCResponse(ctx, w, http.StatusOK, resp)
	h.log.InfoContext(ctx, "tools.list.ok")
}

func (h *Handler) handleToolsCall(ctx context.Context, w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, start time.Time) {
	var call CallToolRequest
	if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
		h.log.WarnContext(ctx, "tool.call.params.invalid")
		h.writeRPCResponse(ctx, w, http.StatusOK,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "tools/call params require a tool name", nil))
		return
	}

	rule, _ := h.table.Lookup(call.Name)
	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{
		ToolName: call.Name,
		Policy:   string(rule.Policy),
	})

	credential, malformedDesc := bearerCredential(r)
	if malformedDesc != "" {
		h.log.InfoContext(ctx, "auth.check.invalid", slog.String("err", malformedDesc))
		ch := auth.NewInvalidRequest(h.metadataURL.String(), malformedDesc)
		h.writeChallenge(ctx, w, req.ID, ch)
		return
	}

	outcome := h.enforcer.Enforce(ctx, call.Name, credential)
	ctx = logctx.WithAuthData(ctx, &logctx.AuthData{
		UserID:   userID(outcome.User),
		Decision: outcome.Decision.String(),
		Reason:   string(outcome.Reason),
	})

	if outcome.Decision == policy.Reject {
		h.log.InfoContext(ctx, "auth.fail")
		h.writeChallenge(ctx, w, req.ID, outcome.Challenge)
		return
	}
	if outcome.User != nil {
		ctx = withUser(ctx, outcome.User)
	}
	h.log.InfoContext(ctx, "auth.ok")

	result, err := h.registry.Call(ctx, &call)
	if err != nil {
		if errors.Is(err, ErrToolNotFound) {
			h.log.InfoContext(ctx, "tool.call.miss")
			h.writeRPCResponse(ctx, w, http.StatusOK,
				jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil))
			return
		}
		h.log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
		h.writeRPCResponse(ctx, w, http.StatusOK,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "tool execution failed", nil))
		return
	}

	h.resolveFileRefs(ctx, result)

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "tool.call.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "tool.call.encode.fail", slog.String("err", err.Error()))
		h.writeRPCResponse(ctx, w, http.StatusOK,
			jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode tool result", nil))
		return
	}
	h.writeRPCResponse(ctx, w, http.StatusOK, resp)
	h.log.InfoContext(ctx, "tool.call.ok", slog.Duration("dur", time.Since(start)))
}

// resolveFileRefs refreshes any file reference blocks in the result. The
// resolver never fails; blocks keep their prior URL when resolution cannot
// improve on it.
func (h *Handler) resolveFileRefs(ctx context.Context, result *CallToolResult) {
	if h.resolver == nil || result == nil {
		return
	}
	for i := range result.Content {
		if result.Content[i].File == nil {
			continue
		}
		resolved := h.resolver.Resolve(ctx, *result.Content[i].File)
		result.Content[i].File = &resolved
	}
}

// bearerCredential extracts the bearer token from the Authorization header.
// Returns the raw token (empty when the header is absent) or a description
// of why the header is malformed.
func bearerCredential(r *http.Request) (credential string, malformed string) {
	header := r.Header.Get(authorizationHeader)
	if header == "" {
		return "", ""
	}
	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(header, bearerPrefix) || len(header) <= len(bearerPrefix) {
		return "", "malformed bearer authorization header"
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		return "", "empty bearer token"
	}
	return tok, ""
}

// writeChallenge emits a rejection in the configured encoding. Header mode
// answers at the HTTP layer; inline mode embeds the hint in a successful
// response for callers that cannot observe per-call status.
func (h *Handler) writeChallenge(ctx context.Context, w http.ResponseWriter, id *jsonrpc.RequestID, ch auth.Challenge) {
	hint := ch.Hint()

	if h.mode == ChallengeModeInline {
		result := &CallToolResult{
			Content:      []ContentBlock{{Type: "text", Text: hint.ErrorDescription}},
			IsError:      true,
			AuthRequired: &hint,
		}
		resp, err := jsonrpc.NewResultResponse(id, result)
		if err != nil {
			h.log.ErrorContext(ctx, "challenge.encode.fail", slog.String("err", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		h.writeRPCResponse(ctx, w, http.StatusOK, resp)
		return
	}

	w.Header().Add(wwwAuthenticateHeader, ch.WWWAuthenticate())
	h.writeRPCResponse(ctx, w, ch.Status,
		jsonrpc.NewErrorResponse(id, errorCodeAuthRequired, hint.ErrorDescription, hint))
}

func (h *Handler) writeRPCResponse(ctx context.Context, w http.ResponseWriter, status int, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "rpc.write.fail", slog.String("err", err.Error()))
	}
}

func userID(ui auth.UserInfo) string {
	if ui == nil {
		return ""
	}
	return ui.UserID()
}
