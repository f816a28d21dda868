package storage

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"voicecollect/internal/dropbox"
	"voicecollect/pkg/apperr"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

const dropboxListLimit = 100

// DropboxAPI is the part of the Dropbox client the provider uses
type DropboxAPI interface {
	Upload(ctx context.Context, path string, mode string, data []byte) (*dropbox.FileMetadata, error)
	ListSharedLinks(ctx context.Context, path string) ([]dropbox.SharedLink, error)
	CreateSharedLink(ctx context.Context, path string) (*dropbox.SharedLink, error)
	ListFolder(ctx context.Context, path string, limit int) (*dropbox.ListFolderResult, error)
	ListFolderContinue(ctx context.Context, cursor string) (*dropbox.ListFolderResult, error)
}

type DropboxProvider struct {
	api DropboxAPI
}

func NewDropboxProvider(api DropboxAPI) *DropboxProvider {
	return &DropboxProvider{api: api}
}

func (p *DropboxProvider) Name() string {
	return "dropbox"
}

func (p *DropboxProvider) Put(ctx context.Context, key string, data []byte, policy model.CollisionPolicy) (model.StoredObject, error) {
	mode := "add"
	if policy == model.CollisionOverwrite {
		mode = "overwrite"
	}

	meta, err := p.api.Upload(ctx, dropboxPath(key), mode, data)
	if err != nil {
		return model.StoredObject{}, mapDropboxError(err)
	}

	return fileObject(*meta), nil
}

// PublicURL reuses the first direct link for the file. When none exists one
// is created; losing a creation race to another caller still yields the
// existing link.
func (p *DropboxProvider) PublicURL(ctx context.Context, key string) (string, error) {
	path := dropboxPath(key)

	links, err := p.api.ListSharedLinks(ctx, path)
	if err != nil {
		return "", mapDropboxError(err)
	}
	if len(links) > 0 {
		return dropbox.DirectURL(links[0].URL), nil
	}

	link, err := p.api.CreateSharedLink(ctx, path)
	if err == nil {
		return dropbox.DirectURL(link.URL), nil
	}

	var apiErr *dropbox.APIError
	if !errors.As(err, &apiErr) || !apiErr.IsLinkExists() {
		return "", mapDropboxError(err)
	}

	if apiErr.ExistingLink != nil {
		return dropbox.DirectURL(apiErr.ExistingLink.URL), nil
	}

	logger.Debug("Shared link created concurrently, re-listing", zap.String("path", path))

	links, err = p.api.ListSharedLinks(ctx, path)
	if err != nil {
		return "", mapDropboxError(err)
	}
	if len(links) == 0 {
		return "", Transient(fmt.Errorf("shared link for %s reported as existing but not listed", path))
	}
	return dropbox.DirectURL(links[0].URL), nil
}

func (p *DropboxProvider) ListPage(ctx context.Context, namespace, cursor string) (Page, error) {
	var (
		res *dropbox.ListFolderResult
		err error
	)
	if cursor == "" {
		res, err = p.api.ListFolder(ctx, dropboxPath(namespace), dropboxListLimit)
	} else {
		res, err = p.api.ListFolderContinue(ctx, cursor)
	}
	if err != nil {
		var apiErr *dropbox.APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return Page{}, nil
		}
		return Page{}, mapDropboxError(err)
	}

	page := Page{Objects: make([]model.StoredObject, 0, len(res.Entries))}
	for _, e := range res.Entries {
		if e.Tag != "" && e.Tag != "file" {
			continue
		}
		page.Objects = append(page.Objects, fileObject(e))
	}
	if res.HasMore {
		page.Next = res.Cursor
	}
	return page, nil
}

func fileObject(meta dropbox.FileMetadata) model.StoredObject {
	return model.StoredObject{
		Key:       strings.TrimPrefix(meta.PathDisplay, "/"),
		Name:      meta.Name,
		Size:      meta.Size,
		CreatedAt: meta.ServerModified,
	}
}

func dropboxPath(key string) string {
	return "/" + strings.Trim(key, "/")
}

func mapDropboxError(err error) error {
	// Token refresh failures are already classified by the credential manager.
	if apperr.Is(err, apperr.KindAuth) {
		return err
	}

	var apiErr *dropbox.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsAuth():
			return fmt.Errorf("%w: %v", ErrUnauthorized, apiErr)
		case apiErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrConflict, apiErr)
		case apiErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrNotFound, apiErr)
		case apiErr.IsTransient():
			return Transient(apiErr)
		}
		return apiErr
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return Transient(err)
	}
	return err
}
