package bendload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type AuthMethod string

const (
	AuthMethodUserPassword AuthMethod = "userPassword"
	AuthMethodAccessToken  AuthMethod = "accessToken"
)

type RequestType int

// request type
const (
	Query RequestType = iota
	Page
	Final
)

type ContextKey string

const ContextKeyQueryID ContextKey = "X-DATABEND-QUERY-ID"

type PresignedResponse struct {
	Method  string
	Headers map[string]string
	URL     string
}

// APIClient talks to the Databend HTTP API: it executes statements, asks
// for presigned URLs and moves files in and out of stages.
type APIClient struct {
	cli      *http.Client
	transfer *transferClient
	logger   Logger

	apiEndpoint string
	host        string
	tenant      string
	warehouse   string
	user        string
	password    string

	sessionState      *SessionState
	accessTokenLoader AccessTokenLoader

	PresignedURLDisabled bool

	// only used for testing mocks
	doRequestFunc func(method, path string, req interface{}, resp interface{}) error
}

// NewAPIClientFromConfig builds a client from cfg. Logging is scoped to the
// returned client; construction never touches process-wide state.
func NewAPIClientFromConfig(cfg *Config) *APIClient {
	apiScheme := cfg.Scheme
	if apiScheme == "" {
		apiScheme = "https"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NewDefaultLogger()
		_ = logger.SetLogLevel("error")
	}

	jar := newIgnoreDomainCookieJar()
	jar.SetCookies(nil, []*http.Cookie{{Name: "cookie_enabled", Value: "true"}})
	var rt http.RoundTripper = http.DefaultTransport
	if cfg.EnableOpenTelemetry {
		rt = otelhttp.NewTransport(http.DefaultTransport)
	}
	queryCli := &http.Client{
		Timeout:   cfg.Timeout,
		Jar:       jar,
		Transport: rt,
	}
	// presigned URLs point at external object storage, no session cookies
	transferCli := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: rt,
	}

	return &APIClient{
		cli:         queryCli,
		transfer:    newTransferClient(transferCli, cfg.MaxRetryAttempts, cfg.RetryTimeout, logger),
		logger:      logger,
		apiEndpoint: fmt.Sprintf("%s://%s", apiScheme, cfg.Host),
		host:        cfg.Host,
		tenant:      cfg.Tenant,
		warehouse:   cfg.Warehouse,
		user:        cfg.User,
		password:    cfg.Password,
		sessionState: &SessionState{
			Database: cfg.Database,
			Settings: cfg.Params,
		},
		accessTokenLoader:    initAccessTokenLoader(cfg),
		PresignedURLDisabled: cfg.PresignedURLDisabled,
	}
}

func initAccessTokenLoader(cfg *Config) AccessTokenLoader {
	if cfg.AccessTokenLoader != nil {
		return cfg.AccessTokenLoader
	} else if cfg.AccessTokenFile != "" {
		return NewFileAccessTokenLoader(cfg.AccessTokenFile)
	} else if cfg.AccessToken != "" {
		return NewStaticAccessTokenLoader(cfg.AccessToken)
	}
	return nil
}

func (c *APIClient) doRequest(ctx context.Context, method, path string, req interface{}, resp interface{}) error {
	if c.doRequestFunc != nil {
		return c.doRequestFunc(method, path, req, resp)
	}

	var err error
	reqBody := []byte{}
	if req != nil {
		reqBody, err = json.Marshal(req)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request body")
		}
	}

	url := c.makeURL(path)
	maxRetries := 2
	for i := 1; i <= maxRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(reqBody))
		if err != nil {
			return errors.Wrap(err, "failed to create http request")
		}

		headers, err := c.makeHeaders(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to make request headers")
		}
		headers.Set(contentType, jsonContentType)
		headers.Set(accept, jsonContentType)
		httpReq.Header = headers
		if len(c.host) > 0 {
			httpReq.Host = c.host
		}

		httpResp, err := c.cli.Do(httpReq)
		if err != nil {
			return errors.Wrap(ErrDoRequest, err.Error())
		}
		httpRespBody, err := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		if err != nil {
			return errors.Wrap(ErrReadResponse, err.Error())
		}

		if httpResp.StatusCode == http.StatusUnauthorized {
			if c.authMethod() == AuthMethodAccessToken && i < maxRetries {
				// retry with a rotated access token
				_, _ = c.accessTokenLoader.LoadAccessToken(ctx, true)
				continue
			}
			return NewAPIError("authorization failed", httpResp.StatusCode, httpRespBody)
		} else if httpResp.StatusCode >= 500 {
			return NewAPIError("please retry again later", httpResp.StatusCode, httpRespBody)
		} else if httpResp.StatusCode >= 400 {
			return NewAPIError("please check your arguments", httpResp.StatusCode, httpRespBody)
		}

		if resp != nil {
			if err := json.Unmarshal(httpRespBody, &resp); err != nil {
				return errors.Wrap(err, "failed to unmarshal response body")
			}
		}
		return nil
	}
	return errors.Errorf("failed to do request after %d retries", maxRetries)
}

func (c *APIClient) makeURL(path string, args ...interface{}) string {
	format := c.apiEndpoint + path
	return fmt.Sprintf(format, args...)
}

func (c *APIClient) authMethod() AuthMethod {
	if c.user != "" {
		return AuthMethodUserPassword
	}
	if c.accessTokenLoader != nil {
		return AuthMethodAccessToken
	}
	return ""
}

func (c *APIClient) makeHeaders(ctx context.Context) (http.Header, error) {
	headers := http.Header{}
	headers.Set(WarehouseRoute, "warehouse")
	headers.Set(UserAgent, fmt.Sprintf("bendload/%s", version))
	if c.tenant != "" {
		headers.Set(DatabendTenantHeader, c.tenant)
	}
	if c.warehouse != "" {
		headers.Set(DatabendWarehouseHeader, c.warehouse)
	}
	if queryID, ok := ctx.Value(ContextKeyQueryID).(string); ok {
		headers.Set(DatabendQueryIDHeader, queryID)
	}

	switch c.authMethod() {
	case AuthMethodUserPassword:
		headers.Set(Authorization, fmt.Sprintf("Basic %s", encode(c.user, c.password)))
	case AuthMethodAccessToken:
		accessToken, err := c.accessTokenLoader.LoadAccessToken(ctx, false)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load access token")
		}
		headers.Set(Authorization, fmt.Sprintf("Bearer %s", accessToken))
	default:
		return nil, errors.New("no user password or access token")
	}

	return headers, nil
}

func encode(name string, key string) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%s", name, key)))
}

func (c *APIClient) getSessionState() *SessionState {
	return c.sessionState
}

func (c *APIClient) applySessionState(response *QueryResponse) {
	if response == nil || response.Session == nil {
		return
	}
	c.sessionState = response.Session
}

func (c *APIClient) doRetry(f retry.RetryableFunc, t RequestType) error {
	var delay time.Duration = 1
	var attempts uint = 3
	if t == Query {
		delay = 2
		attempts = 5
	}
	return retry.Do(
		func() error {
			return f()
		},
		retry.RetryIf(func(err error) bool {
			if err == nil {
				return false
			}
			if errors.Is(err, context.Canceled) {
				return false
			}
			return errors.Is(err, ErrDoRequest) || errors.Is(err, ErrReadResponse) || IsProxyErr(err)
		}),
		retry.Delay(delay*time.Second),
		retry.Attempts(attempts),
		retry.DelayType(retry.FixedDelay),
	)
}

func (c *APIClient) startQueryRequest(ctx context.Context, request *QueryRequest) (*QueryResponse, error) {
	var resp QueryResponse
	err := c.doRetry(func() error {
		return c.doRequest(ctx, "POST", queryPath, request, &resp)
	}, Query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to do query request")
	}
	c.applySessionState(&resp)
	return &resp, nil
}

// StartQuery posts sql to the query endpoint and returns the first page.
func (c *APIClient) StartQuery(ctx context.Context, sql string) (*QueryResponse, error) {
	request := QueryRequest{
		SQL:     sql,
		Session: c.getSessionState(),
	}
	return c.startQueryRequest(ctx, &request)
}

// PollUntilQueryEnd drains the result cursor to completion, following
// next_uri pages.
func (c *APIClient) PollUntilQueryEnd(ctx context.Context, resp *QueryResponse) (*QueryResponse, error) {
	var err error
	for !resp.ReadFinished() {
		data := resp.Data
		resp, err = c.pollQuery(ctx, resp.NextURI)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, errors.Wrap(resp.Error, "query page failed")
		}
		resp.Data = append(data, resp.Data...)
	}
	return resp, nil
}

func (c *APIClient) pollQuery(ctx context.Context, nextURI string) (*QueryResponse, error) {
	var result QueryResponse
	err := c.doRetry(func() error {
		return c.doRequest(ctx, "GET", nextURI, nil, &result)
	}, Page)
	c.applySessionState(&result)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query page")
	}
	return &result, nil
}

// CloseQuery releases the server-side cursor early, if the response still
// points at one.
func (c *APIClient) CloseQuery(ctx context.Context, response *QueryResponse) error {
	if response != nil && response.FinalURI != "" {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		_ = c.doRetry(func() error {
			return c.doRequest(ctx, "GET", response.FinalURI, nil, nil)
		}, Final)
	}
	return nil
}

// QuerySync executes sql and drains the result to completion.
func (c *APIClient) QuerySync(ctx context.Context, sql string) (*QueryResponse, error) {
	ctx = checkQueryID(ctx)
	resp, err := c.StartQuery(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = c.CloseQuery(ctx, resp)
	}()
	if resp.Error != nil {
		return nil, errors.Wrap(resp.Error, "query error")
	}
	return c.PollUntilQueryEnd(ctx, resp)
}

func (c *APIClient) NewDefaultCSVFormatOptions() map[string]string {
	return map[string]string{
		"type":             "CSV",
		"field_delimiter":  ",",
		"record_delimiter": "\n",
		"skip_header":      "0",
	}
}

func (c *APIClient) NewDefaultCopyOptions() map[string]string {
	return map[string]string{
		"purge": "true",
	}
}

// InsertWithStage executes sql with a stage attachment pointing the server
// at the uploaded object, and drains the result cursor.
func (c *APIClient) InsertWithStage(ctx context.Context, sql string, stage *StageLocation, fileFormatOptions, copyOptions map[string]string) (*QueryResponse, error) {
	if stage == nil {
		return nil, errors.New("stage location required for insert with stage")
	}
	if fileFormatOptions == nil {
		fileFormatOptions = c.NewDefaultCSVFormatOptions()
	}
	if copyOptions == nil {
		copyOptions = c.NewDefaultCopyOptions()
	}
	ctx = checkQueryID(ctx)
	request := QueryRequest{
		SQL:     sql,
		Session: c.getSessionState(),
		StageAttachment: &StageAttachmentConfig{
			Location:          stage.String(),
			FileFormatOptions: fileFormatOptions,
			CopyOptions:       copyOptions,
		},
	}
	resp, err := c.startQueryRequest(ctx, &request)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = c.CloseQuery(ctx, resp)
	}()
	if resp.Error != nil {
		return nil, errors.Wrap(resp.Error, "query error")
	}
	return c.PollUntilQueryEnd(ctx, resp)
}

// GetPresignedURL asks the server for a one-time upload URL for stage.
func (c *APIClient) GetPresignedURL(ctx context.Context, stage *StageLocation) (*PresignedResponse, error) {
	presignUploadSQL := fmt.Sprintf("PRESIGN UPLOAD %s", stage)
	resp, err := c.QuerySync(ctx, presignUploadSQL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query presign url")
	}
	if len(resp.Data) < 1 || len(resp.Data[0]) < 3 {
		return nil, errors.Errorf("generate presign url invalid response: %+v", resp.Data)
	}

	headers := make(map[string]string)
	if err := json.Unmarshal([]byte(resp.Data[0][1]), &headers); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal presign headers")
	}
	return &PresignedResponse{
		Method:  resp.Data[0][0],
		Headers: headers,
		URL:     resp.Data[0][2],
	}, nil
}

// RemoveStageFile removes the staged object behind stage. A server-side
// "resource not found" counts as success, so cleanup is idempotent. The
// outcome is reported as a boolean and never escalated.
func (c *APIClient) RemoveStageFile(ctx context.Context, stage *StageLocation) bool {
	if stage == nil {
		return true
	}
	_, err := c.QuerySync(ctx, fmt.Sprintf("REMOVE %s", stage))
	if err != nil {
		if IsStageNotFound(err) {
			return true
		}
		c.logger.WithContext(ctx).Infoln("failed to remove stage file", stage.String(), err)
		return false
	}
	return true
}

// checkQueryID generates a query id when the context does not carry one.
func checkQueryID(ctx context.Context) context.Context {
	if _, ok := ctx.Value(ContextKeyQueryID).(string); !ok {
		ctx = context.WithValue(ctx, ContextKeyQueryID, uuid.NewString())
	}
	return ctx
}
