package ccapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"canon-mcp/internal/domain"
)

const contentsVersion = "ver110"

var errDownloadStalled = errors.New("download exceeded size-based deadline")

// pathList is a CCAPI contents listing. ver110 uses "path", ver100 "url".
type pathList struct {
	Path []string `json:"path"`
	URL  []string `json:"url"`
}

func (p pathList) entries() []string {
	if len(p.Path) > 0 {
		return p.Path
	}
	return p.URL
}

type pageCount struct {
	ContentsNumber int `json:"contentsnumber"`
	PageNumber     int `json:"pagenumber"`
}

// ListImages walks storage, directories and pages lazily. Each page fetch
// is a separate gated read, so iteration never holds the camera while the
// consumer works. Ranging the sequence again restarts from the first storage.
func (c *Client) ListImages(ctx context.Context) iter.Seq2[domain.ImageEntry, error] {
	return func(yield func(domain.ImageEntry, error) bool) {
		storages, err := c.listPaths(ctx, c.path(contentsVersion, "contents"), nil)
		if err != nil {
			yield(domain.ImageEntry{}, err)
			return
		}
		for _, storage := range storages {
			dirs, err := c.listPaths(ctx, c.contentsPath(contentID(storage)), nil)
			if err != nil {
				yield(domain.ImageEntry{}, err)
				return
			}
			for _, dir := range dirs {
				if !c.walkDirectory(ctx, contentID(dir), yield) {
					return
				}
			}
		}
	}
}

// walkDirectory yields every file of dir; false means stop.
func (c *Client) walkDirectory(ctx context.Context, dir string, yield func(domain.ImageEntry, error) bool) bool {
	pages, err := c.pageCount(ctx, dir)
	if err != nil {
		yield(domain.ImageEntry{}, err)
		return false
	}
	for page := 1; page <= pages; page++ {
		files, err := c.listPaths(ctx, c.contentsPath(dir), url.Values{"page": {strconv.Itoa(page)}})
		if err != nil {
			yield(domain.ImageEntry{}, err)
			return false
		}
		for _, f := range files {
			if !yield(entryFor(contentID(f)), nil) {
				return false
			}
		}
	}
	return true
}

func (c *Client) pageCount(ctx context.Context, dir string) (int, error) {
	var pc pageCount
	err := c.access(ctx, domain.OpListImages, func(ctx context.Context) error {
		resp, err := c.do(ctx, c.opts.Timeouts.Settings, request{
			op:     domain.OpListImages,
			method: http.MethodGet,
			path:   c.contentsPath(dir),
			query:  url.Values{"kind": {"number"}},
			on404:  domain.ErrNotFound,
		})
		if err != nil {
			return err
		}
		return decode(domain.OpListImages, resp, &pc)
	})
	if err != nil {
		return 0, err
	}
	if pc.PageNumber == 0 && pc.ContentsNumber > 0 {
		return 1, nil
	}
	return pc.PageNumber, nil
}

func (c *Client) listPaths(ctx context.Context, p string, query url.Values) ([]string, error) {
	var pl pathList
	err := c.access(ctx, domain.OpListImages, func(ctx context.Context) error {
		resp, err := c.do(ctx, c.opts.Timeouts.Settings, request{
			op:     domain.OpListImages,
			method: http.MethodGet,
			path:   p,
			query:  query,
			on404:  domain.ErrNotFound,
		})
		if err != nil {
			return err
		}
		return decode(domain.OpListImages, resp, &pl)
	})
	return pl.entries(), err
}

// CollectImages drains seq into a list of at most limit entries.
func CollectImages(seq iter.Seq2[domain.ImageEntry, error], limit int) (*domain.ImageList, error) {
	list := &domain.ImageList{Images: []domain.ImageEntry{}}
	for entry, err := range seq {
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(list.Images) == limit {
			list.Truncated = true
			break
		}
		list.Images = append(list.Images, entry)
	}
	list.Count = len(list.Images)
	return list, nil
}

// DownloadImage fetches a stored file by id. With compress set, non-JPEG
// files are fetched as the camera's JPEG rendition and the result is
// shrunk to the compression budget.
func (c *Client) DownloadImage(ctx context.Context, id string, compress bool) (*domain.ImagePayload, error) {
	if err := validateContentID(id); err != nil {
		return nil, err
	}

	var (
		data  []byte
		ctype string
	)
	display := compress && !isJPEG(id)
	err := c.access(ctx, domain.OpDownloadImage, func(ctx context.Context) error {
		var err error
		data, ctype, err = c.fetchContent(ctx, id, display)
		return err
	})
	if err != nil {
		return nil, err
	}

	payload := &domain.ImagePayload{
		ID:           id,
		ContentType:  ctype,
		Data:         data,
		OriginalSize: len(data),
		Size:         len(data),
	}
	target := 0
	if compress {
		target = c.opts.CompressTarget
	}
	if err := c.shrink(domain.OpDownloadImage, payload, target); err != nil {
		return nil, err
	}
	return payload, nil
}

// fetchContent streams a file with a deadline of the base download timeout
// plus the time the announced size needs at the minimum acceptable rate.
func (c *Client) fetchContent(ctx context.Context, id string, display bool) ([]byte, string, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	base := c.opts.Timeouts.Download
	timer := time.AfterFunc(base, func() { cancel(errDownloadStalled) })
	defer timer.Stop()

	rq := request{
		op:     domain.OpDownloadImage,
		method: http.MethodGet,
		path:   c.contentsPath(id),
		on404:  domain.ErrNotFound,
		stream: true,
	}
	if display {
		rq.query = url.Values{"kind": {"display"}}
	}
	resp, err := c.exec(ctx, rq)
	if err != nil {
		return nil, "", err
	}
	body := resp.RawBody()
	defer body.Close()

	if n := resp.RawResponse.ContentLength; n > 0 {
		timer.Reset(base + transferAllowance(n, c.opts.MinDownloadRate))
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", transportError(ctx, domain.OpDownloadImage, err)
	}
	return data, resp.Header().Get("Content-Type"), nil
}

// transferAllowance is how long n bytes take at rate bytes/sec.
func transferAllowance(n int64, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

// contentsPath maps a content id back to its CCAPI URL path.
func (c *Client) contentsPath(id string) string {
	return c.path(contentsVersion, "contents", id)
}

// contentID strips the CCAPI prefix from a contents URL, leaving the
// storage-relative id, e.g. "sd/100CANON/IMG_0001.JPG".
func contentID(p string) string {
	if i := strings.Index(p, "/contents/"); i >= 0 {
		return p[i+len("/contents/"):]
	}
	return strings.TrimPrefix(p, "/")
}

func entryFor(id string) domain.ImageEntry {
	parts := strings.Split(id, "/")
	e := domain.ImageEntry{ID: id, Name: parts[len(parts)-1], Storage: parts[0]}
	if len(parts) > 2 {
		e.Directory = strings.Join(parts[1:len(parts)-1], "/")
	}
	return e
}

func validateContentID(id string) error {
	bad := id == "" ||
		strings.HasPrefix(id, "/") ||
		strings.ContainsAny(id, "?#\\") ||
		strings.Contains(id, "..") ||
		!strings.Contains(id, "/")
	if bad {
		return &domain.CameraError{
			Op:     domain.OpDownloadImage,
			Kind:   domain.ErrInvalidParameter,
			Detail: fmt.Sprintf("invalid image id %q (want storage/directory/file)", id),
		}
	}
	return nil
}

func isJPEG(id string) bool {
	switch strings.ToLower(path.Ext(id)) {
	case ".jpg", ".jpeg":
		return true
	}
	return false
}
