// Package wellknown builds and serves the OAuth 2.0 Protected Resource
// Metadata document (RFC 9728). The document is a pure function of startup
// configuration: computed once, served verbatim, reachable without
// credentials so that challenged callers can bootstrap discovery.
package wellknown

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mcpauth/authgate/auth"
)

// WellKnownPrefix is the path prefix at which the document is served. The
// resource's own path is appended, so a resource at https://host/mcp serves
// its metadata at https://host/.well-known/oauth-protected-resource/mcp.
const WellKnownPrefix = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata is the RFC 9728 document shape.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	JwksURI                string   `json:"jwks_uri,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
	ResourceDocumentation  string   `json:"resource_documentation,omitempty"`
}

// DocumentURL computes the absolute URL of the metadata document for the
// given resource URL.
func DocumentURL(resource *url.URL) *url.URL {
	return &url.URL{
		Scheme: resource.Scheme,
		Host:   resource.Host,
		Path:   WellKnownPrefix + resource.Path,
	}
}

// NewDocument builds the metadata document for a resource from its security
// configuration. It enforces the core invariant of the publisher: the
// resource URL the document advertises is exactly the URL callers reach,
// which must also be one of the audiences tokens are validated against.
func NewDocument(resource *url.URL, sec auth.SecurityConfig, resourceName string) (ProtectedResourceMetadata, error) {
	if resource == nil {
		return ProtectedResourceMetadata{}, fmt.Errorf("wellknown: resource URL is required")
	}
	if err := sec.Validate(); err != nil {
		return ProtectedResourceMetadata{}, err
	}
	res := resource.String()
	found := false
	for _, aud := range sec.Audiences {
		if aud == res {
			found = true
			break
		}
	}
	if !found {
		return ProtectedResourceMetadata{}, fmt.Errorf("wellknown: resource %q is not among configured audiences %v", res, sec.Audiences)
	}
	return ProtectedResourceMetadata{
		Resource:               res,
		AuthorizationServers:   []string{sec.Issuer},
		JwksURI:                sec.JWKSURL,
		ScopesSupported:        append([]string(nil), sec.ScopesSupported...),
		BearerMethodsSupported: []string{"header"},
		ResourceName:           resourceName,
	}, nil
}

// Handler serves the document with permissive CORS, handling GET and the
// OPTIONS preflight. Mount it at the path of DocumentURL; no authentication
// may be required to fetch it.
func Handler(doc ProtectedResourceMetadata) http.Handler {
	body, err := json.Marshal(doc)
	if err != nil {
		// The document is plain data; marshalling cannot fail for valid input.
		panic(fmt.Sprintf("wellknown: marshal metadata: %v", err))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodOptions:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
		default:
			w.Header().Set("Allow", "GET, OPTIONS")
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

// MuxPaths returns the ServeMux patterns the document should be mounted at.
// A trailing-slash variant avoids ServeMux's implicit 301 when the resource
// lives at the host root.
func MuxPaths(docURL *url.URL) []string {
	p := docURL.Path
	if p == "" {
		p = WellKnownPrefix
	}
	if strings.HasSuffix(p, "/") {
		base := strings.TrimSuffix(p, "/")
		return []string{base, base + "/"}
	}
	return []string{p, p + "/"}
}
