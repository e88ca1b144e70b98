package bendload

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// StageLocation names an object inside a stage. The user's internal stage
// is "~".
type StageLocation struct {
	Name string
	Path string
}

func (sl *StageLocation) String() string {
	return fmt.Sprintf("@%s/%s", sl.Name, sl.Path)
}

// stagePrefix returns the collision-resistant prefix staged batch files live
// under: <year>/<month>/<day>/<hour>/<minute>/<second>/<uuid>/.
func stagePrefix(now time.Time) string {
	return fmt.Sprintf("%d/%d/%d/%d/%d/%d/%s/",
		now.Year(), int(now.Month()), now.Day(),
		now.Hour(), now.Minute(), now.Second(),
		uuid.NewString())
}

// NewStageLocation places fileName under a fresh timestamped prefix in the
// user's internal stage.
func NewStageLocation(fileName string) *StageLocation {
	return &StageLocation{
		Name: "~",
		Path: stagePrefix(time.Now()) + path.Base(fileName),
	}
}

// multipartSource renders an inner payload source as a single-part
// multipart/form-data body. The body is produced through a pipe, so the
// payload is never buffered whole. It stays reusable as long as the inner
// source is: each attempt re-opens the inner source and streams a fresh body
// with the same boundary.
type multipartSource struct {
	inner    BodySource
	field    string
	fileName string
	boundary string
}

func newMultipartSource(inner BodySource, field, fileName string) *multipartSource {
	return &multipartSource{
		inner:    inner,
		field:    field,
		fileName: fileName,
		boundary: multipart.NewWriter(io.Discard).Boundary(),
	}
}

func (m *multipartSource) ContentType() string {
	return "multipart/form-data; boundary=" + m.boundary
}

func (m *multipartSource) Open() (io.ReadCloser, error) {
	src, err := m.inner.Open()
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	if err := mw.SetBoundary(m.boundary); err != nil {
		_ = src.Close()
		return nil, errors.Wrap(err, "failed to set multipart boundary")
	}
	go func() {
		part, err := mw.CreateFormFile(m.field, m.fileName)
		if err == nil {
			_, err = io.Copy(part, src)
		}
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		_ = src.Close()
		_ = pw.CloseWithError(err)
	}()
	return pr, nil
}

func (m *multipartSource) Size() int64 { return SizeUnknown }

func (m *multipartSource) Reusable() bool { return m.inner.Reusable() }

// UploadToStage uploads src to the stage location, through the presigned URL
// flow unless it is disabled by configuration.
func (c *APIClient) UploadToStage(ctx context.Context, stage *StageLocation, src BodySource) error {
	if c.PresignedURLDisabled {
		return c.UploadToStageByAPI(ctx, stage, src)
	}
	return c.UploadToStageByPresignURL(ctx, stage, src)
}

// UploadToStageByAPI posts src as a multipart body to the stable upload
// endpoint, naming the target stage and relative path in headers.
func (c *APIClient) UploadToStageByAPI(ctx context.Context, stage *StageLocation, src BodySource) error {
	headers, err := c.makeHeaders(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to make headers")
	}
	body := newMultipartSource(src, "upload", path.Base(stage.Path))
	headers.Set("stage_name", stage.Name)
	headers.Set("relative_path", path.Dir(stage.Path))
	headers.Set(contentType, body.ContentType())

	req := &transferRequest{
		Method: "PUT",
		URL:    c.makeURL(uploadToStagePath),
		Header: headers,
		Body:   body,
	}
	if _, err := c.transfer.execute(ctx, req, false); err != nil {
		return errors.Wrap(err, "failed to upload to stage by api")
	}
	return nil
}

// UploadToStageByPresignURL asks the server for a one-time URL and PUTs src
// against it with the server-supplied headers.
func (c *APIClient) UploadToStageByPresignURL(ctx context.Context, stage *StageLocation, src BodySource) error {
	presigned, err := c.GetPresignedURL(ctx, stage)
	if err != nil {
		return errors.Wrap(err, "failed to get presigned url")
	}
	headers := http.Header{}
	for k, v := range presigned.Headers {
		headers.Set(k, v)
	}
	req := &transferRequest{
		Method: "PUT",
		URL:    presigned.URL,
		Header: headers,
		Body:   src,
	}
	if _, err := c.transfer.execute(ctx, req, false); err != nil {
		return errors.Wrap(err, "failed to upload to stage by presigned url")
	}
	return nil
}

// DownloadStream issues a GET against url and returns the response body for
// incremental consumption. The caller owns the returned reader and must
// close it. Retries happen only inside the transfer layer; once a body is
// handed out it is never re-fetched.
func (c *APIClient) DownloadStream(ctx context.Context, url string, header http.Header) (io.ReadCloser, error) {
	req := &transferRequest{
		Method: "GET",
		URL:    url,
		Header: header,
	}
	resp, err := c.transfer.execute(ctx, req, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download from stage")
	}
	return resp.Body, nil
}

// DownloadToFile streams the object at url into destPath.
func (c *APIClient) DownloadToFile(ctx context.Context, url string, header http.Header, destPath string) error {
	body, err := c.DownloadStream(ctx, url, header)
	if err != nil {
		return err
	}
	defer func() {
		_ = body.Close()
	}()

	dest, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "failed to create download destination")
	}
	_, err = io.Copy(dest, body)
	if cerr := dest.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "failed to write download destination")
	}
	return nil
}
