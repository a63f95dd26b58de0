package wellknown

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpauth/authgate/auth"
)

func testSec(aud string) auth.SecurityConfig {
	return auth.SecurityConfig{
		Issuer:          "https://issuer.example",
		Audiences:       []string{aud},
		JWKSURL:         "https://issuer.example/keys",
		ScopesSupported: []string{"orders:read", "orders:write"},
	}
}

func TestDocumentURL(t *testing.T) {
	res, err := url.Parse("https://host.example/mcp")
	require.NoError(t, err)
	doc := DocumentURL(res)
	require.Equal(t, "https://host.example/.well-known/oauth-protected-resource/mcp", doc.String())

	root, err := url.Parse("https://host.example")
	require.NoError(t, err)
	require.Equal(t, "https://host.example/.well-known/oauth-protected-resource", DocumentURL(root).String())
}

func TestNewDocument(t *testing.T) {
	res, err := url.Parse("https://host.example/mcp")
	require.NoError(t, err)

	doc, err := NewDocument(res, testSec("https://host.example/mcp"), "Demo")
	require.NoError(t, err)
	require.Equal(t, "https://host.example/mcp", doc.Resource)
	require.Equal(t, []string{"https://issuer.example"}, doc.AuthorizationServers)
	require.Equal(t, []string{"orders:read", "orders:write"}, doc.ScopesSupported)
	require.Equal(t, []string{"header"}, doc.BearerMethodsSupported)
	require.Equal(t, "Demo", doc.ResourceName)
}

func TestNewDocument_ResourceMustBeAudience(t *testing.T) {
	res, err := url.Parse("https://host.example/mcp")
	require.NoError(t, err)

	_, err = NewDocument(res, testSec("https://other.example/mcp"), "")
	require.Error(t, err)
}

func TestHandler_GetAndPreflight(t *testing.T) {
	res, err := url.Parse("https://host.example/mcp")
	require.NoError(t, err)
	doc, err := NewDocument(res, testSec("https://host.example/mcp"), "")
	require.NoError(t, err)

	h := Handler(doc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/.well-known/oauth-protected-resource/mcp", nil))
	require.Equal(t, 200, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	var got ProtectedResourceMetadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, doc.Resource, got.Resource)

	pre := httptest.NewRecorder()
	h.ServeHTTP(pre, httptest.NewRequest("OPTIONS", "/.well-known/oauth-protected-resource/mcp", nil))
	require.Equal(t, 204, pre.Code)
	require.Equal(t, "GET, OPTIONS", pre.Header().Get("Access-Control-Allow-Methods"))
}

func TestMuxPaths(t *testing.T) {
	u, _ := url.Parse("https://host/.well-known/oauth-protected-resource/mcp")
	require.Equal(t, []string{
		"/.well-known/oauth-protected-resource/mcp",
		"/.well-known/oauth-protected-resource/mcp/",
	}, MuxPaths(u))
}
