package dropbox

import (
	"fmt"
	"strings"
	"time"
)

// TokenResponse is the OAuth2 token endpoint reply
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// OAuthError is the OAuth2 token endpoint error body
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// UploadArg goes into the Dropbox-API-Arg header of files/upload
type UploadArg struct {
	Path           string `json:"path"`
	Mode           string `json:"mode"`
	Autorename     bool   `json:"autorename"`
	Mute           bool   `json:"mute"`
	StrictConflict bool   `json:"strict_conflict"`
}

// FileMetadata describes a file entry
type FileMetadata struct {
	Tag            string    `json:".tag,omitempty"`
	Name           string    `json:"name"`
	ID             string    `json:"id"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ServerModified time.Time `json:"server_modified"`
	Size           int64     `json:"size"`
}

// SharedLinkSettings controls visibility of a created link
type SharedLinkSettings struct {
	Audience string `json:"audience,omitempty"`
	Access   string `json:"access,omitempty"`
}

type CreateSharedLinkArg struct {
	Path     string              `json:"path"`
	Settings *SharedLinkSettings `json:"settings,omitempty"`
}

type ListSharedLinksArg struct {
	Path       string `json:"path"`
	DirectOnly bool   `json:"direct_only"`
}

// SharedLink is the metadata of a shared link
type SharedLink struct {
	Tag       string `json:".tag"`
	URL       string `json:"url"`
	Name      string `json:"name"`
	PathLower string `json:"path_lower"`
}

type ListSharedLinksResult struct {
	Links   []SharedLink `json:"links"`
	HasMore bool         `json:"has_more"`
	Cursor  string       `json:"cursor,omitempty"`
}

type ListFolderArg struct {
	Path      string `json:"path"`
	Recursive bool   `json:"recursive"`
	Limit     int    `json:"limit,omitempty"`
}

type ListFolderContinueArg struct {
	Cursor string `json:"cursor"`
}

type ListFolderResult struct {
	Entries []FileMetadata `json:"entries"`
	Cursor  string         `json:"cursor"`
	HasMore bool           `json:"has_more"`
}

// apiErrorBody is the envelope of RPC endpoint errors. Only the pieces the
// client inspects are decoded.
type apiErrorBody struct {
	ErrorSummary string `json:"error_summary"`
	Error        struct {
		Tag                     string `json:".tag"`
		SharedLinkAlreadyExists *struct {
			Tag      string      `json:".tag"`
			Metadata *SharedLink `json:"metadata"`
		} `json:"shared_link_already_exists,omitempty"`
	} `json:"error"`
}

// APIError is a non-2xx reply from the Dropbox API
type APIError struct {
	StatusCode int
	Summary    string
	Endpoint   string
	RetryAfter time.Duration

	// ExistingLink is set when create_shared_link_with_settings reports that
	// a link already exists and includes its metadata.
	ExistingLink *SharedLink
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dropbox %s: status=%d, summary=%s", e.Endpoint, e.StatusCode, e.Summary)
}

// IsAuth reports an expired, revoked or malformed access token
func (e *APIError) IsAuth() bool {
	return e.StatusCode == 401
}

// IsTransient reports rate limiting and server-side failures
func (e *APIError) IsTransient() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsConflict reports that the target path is already taken
func (e *APIError) IsConflict() bool {
	return e.StatusCode == 409 && strings.Contains(e.Summary, "/conflict")
}

// IsNotFound reports that the path does not exist
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == 409 && strings.Contains(e.Summary, "not_found")
}

// IsLinkExists reports a create-link call for a path that already has one
func (e *APIError) IsLinkExists() bool {
	return e.StatusCode == 409 && strings.HasPrefix(e.Summary, "shared_link_already_exists")
}
