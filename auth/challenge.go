package auth

import (
	"fmt"
	"net/http"
	"strings"
)

// Challenge is the single semantic "authentication required" signal. The two
// wire encodings (WWW-Authenticate header vs in-band hint object) are
// serializations of the same value; keeping them as methods on one type
// prevents the encodings from drifting apart.
type Challenge struct {
	// Status is the HTTP status paired with the header encoding. 401 for
	// missing/invalid credentials, 400 for malformed Authorization headers,
	// 403 for insufficient scope.
	Status int

	// ErrorCode is the RFC 6750 error parameter ("invalid_request",
	// "invalid_token", "insufficient_scope"). Empty for a bare challenge on a
	// request that carried no authentication information at all.
	ErrorCode string

	// Description is a short human-readable reason.
	Description string

	// ResourceMetadataURL is the absolute URL of the protected resource
	// metadata document a compliant caller should fetch to discover the
	// authorization server.
	ResourceMetadataURL string

	// Realm, if set, is echoed in the header encoding. Optional per RFC 6750.
	Realm string

	// Scopes optionally advertises the scopes the caller should request.
	Scopes []string
}

// NewAuthenticationRequired builds the challenge for a request that carried
// no credential. RFC 6750 §3.1: when the request lacks any authentication
// information the error code is omitted.
func NewAuthenticationRequired(resourceMetadataURL string) Challenge {
	return Challenge{
		Status:              http.StatusUnauthorized,
		ResourceMetadataURL: resourceMetadataURL,
	}
}

// NewInvalidRequest builds the challenge for a malformed Authorization header.
func NewInvalidRequest(resourceMetadataURL, description string) Challenge {
	return Challenge{
		Status:              http.StatusBadRequest,
		ErrorCode:           "invalid_request",
		Description:         description,
		ResourceMetadataURL: resourceMetadataURL,
	}
}

// NewInvalidToken builds the challenge for a credential that failed validation.
func NewInvalidToken(resourceMetadataURL, description string) Challenge {
	return Challenge{
		Status:              http.StatusUnauthorized,
		ErrorCode:           "invalid_token",
		Description:         description,
		ResourceMetadataURL: resourceMetadataURL,
	}
}

// NewInsufficientScope builds the challenge for a valid credential lacking a
// required scope. Scopes carries the scopes the tool requires so the caller
// can re-request consent.
func NewInsufficientScope(resourceMetadataURL string, scopes []string) Challenge {
	return Challenge{
		Status:              http.StatusForbidden,
		ErrorCode:           "insufficient_scope",
		Description:         "token is missing a required scope",
		ResourceMetadataURL: resourceMetadataURL,
		Scopes:              append([]string(nil), scopes...),
	}
}

// WWWAuthenticate renders the header encoding: a Bearer challenge whose
// parameters point the caller at the resource metadata document.
//
//	Bearer realm="...", resource_metadata="...", error="...", error_description="...", scope="..."
func (c Challenge) WWWAuthenticate() string {
	esc := func(v string) string { return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) }
	pieces := make([]string, 0, 5)
	if c.Realm != "" {
		pieces = append(pieces, fmt.Sprintf(`realm="%s"`, esc(c.Realm)))
	}
	if c.ResourceMetadataURL != "" {
		pieces = append(pieces, fmt.Sprintf(`resource_metadata="%s"`, esc(c.ResourceMetadataURL)))
	}
	if c.ErrorCode != "" {
		pieces = append(pieces, fmt.Sprintf(`error="%s"`, esc(c.ErrorCode)))
	}
	if c.Description != "" {
		pieces = append(pieces, fmt.Sprintf(`error_description="%s"`, esc(c.Description)))
	}
	if len(c.Scopes) > 0 {
		pieces = append(pieces, fmt.Sprintf(`scope="%s"`, esc(strings.Join(c.Scopes, " "))))
	}
	if len(pieces) == 0 {
		return "Bearer"
	}
	return "Bearer " + strings.Join(pieces, ", ")
}

// Hint is the in-band encoding of a Challenge: a structured object embedded
// in an otherwise successful transport-level response. Used when the
// transport multiplexes many logical calls over one connection and cannot
// cheaply surface distinct HTTP status per call.
type Hint struct {
	Error            string   `json:"error"`
	ErrorDescription string   `json:"error_description,omitempty"`
	ResourceMetadata string   `json:"resource_metadata"`
	Scopes           []string `json:"scopes,omitempty"`
}

// Hint renders the in-band encoding. It carries exactly the same discovery
// pointer as the header encoding.
func (c Challenge) Hint() Hint {
	code := c.ErrorCode
	if code == "" {
		code = "invalid_token"
	}
	desc := c.Description
	if desc == "" {
		desc = "authentication required"
	}
	return Hint{
		Error:            code,
		ErrorDescription: desc,
		ResourceMetadata: c.ResourceMetadataURL,
		Scopes:           append([]string(nil), c.Scopes...),
	}
}
