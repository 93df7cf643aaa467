package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-mailbox/core"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	FlavorGitee  = "gitee"
	FlavorGitHub = "github"
)

const (
	DefaultGiteeBaseURL  = "https://gitee.com/api/v5"
	DefaultGitHubBaseURL = "https://api.github.com"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB
const defaultCommitMessage = "mailbox: update"

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ContentsConfig addresses one file in a hosted git repository.
type ContentsConfig struct {
	Flavor             string
	BaseURL            string
	Owner              string
	Repo               string
	Path               string
	Branch             string
	BlobDir            string
	AccessToken        string
	CommitMessage      string
	RateLimitPerSecond float64
}

// ConfigFromStore maps the mailbox store section onto a ContentsConfig.
func ConfigFromStore(store core.StoreConfig) ContentsConfig {
	return ContentsConfig{
		Flavor:             store.NormalizedKind(),
		BaseURL:            store.BaseURL,
		Owner:              store.UserName,
		Repo:               store.Repo,
		Path:               store.FilePath,
		Branch:             store.Branch,
		BlobDir:            store.BlobDir,
		AccessToken:        store.AccessToken,
		RateLimitPerSecond: store.RateLimitPerSecond,
	}
}

// ContentsStore keeps the mailbox document in a file served by a git
// hosting "contents" API. The file sha is the revision token.
type ContentsStore struct {
	client               HTTPDoer
	config               ContentsConfig
	codec                core.DocumentCodec
	limiter              *rate.Limiter
	maxResponseBodyBytes int64
	bearer               bool
}

type ContentsOption func(*ContentsStore)

func WithHTTPClient(client HTTPDoer) ContentsOption {
	return func(s *ContentsStore) {
		if client != nil {
			s.client = client
		}
	}
}

func WithCodec(codec core.DocumentCodec) ContentsOption {
	return func(s *ContentsStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

func WithResponseBodyLimit(limit int64) ContentsOption {
	return func(s *ContentsStore) {
		if limit > 0 {
			s.maxResponseBodyBytes = limit
		}
	}
}

func WithRateLimiter(limiter *rate.Limiter) ContentsOption {
	return func(s *ContentsStore) {
		s.limiter = limiter
	}
}

func NewContentsStore(config ContentsConfig, opts ...ContentsOption) (*ContentsStore, error) {
	config.Flavor = strings.TrimSpace(strings.ToLower(config.Flavor))
	if config.Flavor == "" {
		config.Flavor = FlavorGitee
	}
	if config.Flavor != FlavorGitee && config.Flavor != FlavorGitHub {
		return nil, fmt.Errorf("transport: unsupported contents flavor %q", config.Flavor)
	}
	config.Owner = strings.TrimSpace(config.Owner)
	config.Repo = strings.TrimSpace(config.Repo)
	config.Path = strings.Trim(strings.TrimSpace(config.Path), "/")
	config.BlobDir = strings.Trim(strings.TrimSpace(config.BlobDir), "/")
	if config.Owner == "" || config.Repo == "" || config.Path == "" {
		return nil, fmt.Errorf("transport: owner, repo and path are required")
	}
	if strings.TrimSpace(config.AccessToken) == "" {
		return nil, fmt.Errorf("transport: access token is required")
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = DefaultGiteeBaseURL
		if config.Flavor == FlavorGitHub {
			config.BaseURL = DefaultGitHubBaseURL
		}
	}
	config.BaseURL = strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if strings.TrimSpace(config.CommitMessage) == "" {
		config.CommitMessage = defaultCommitMessage
	}

	store := &ContentsStore{
		config:               config,
		codec:                core.JSONDocumentCodec{},
		maxResponseBodyBytes: defaultResponseBodyLimit,
	}
	if config.RateLimitPerSecond > 0 {
		store.limiter = rate.NewLimiter(rate.Limit(config.RateLimitPerSecond), 1)
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(store)
	}
	if config.Flavor == FlavorGitHub {
		store.client = bearerClient(store.client, config.AccessToken)
		store.bearer = true
	}
	if store.client == nil {
		store.client = &http.Client{Timeout: defaultClientTimeout}
	}
	return store, nil
}

// bearerClient authenticates through an oauth2 static token source. A custom
// *http.Client keeps its transport underneath the oauth2 round tripper.
func bearerClient(client HTTPDoer, token string) HTTPDoer {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(token), TokenType: "Bearer"})
	ctx := context.Background()
	switch typed := client.(type) {
	case nil:
		authed := oauth2.NewClient(ctx, source)
		authed.Timeout = defaultClientTimeout
		return authed
	case *http.Client:
		authed := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, typed), source)
		authed.Timeout = typed.Timeout
		return authed
	default:
		return headerDoer{next: typed, header: "Bearer " + strings.TrimSpace(token)}
	}
}

type headerDoer struct {
	next   HTTPDoer
	header string
}

func (d headerDoer) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", d.header)
	return d.next.Do(req)
}

type contentsFile struct {
	Content  string `json:"content"`
	Sha      string `json:"sha"`
	Encoding string `json:"encoding"`
}

type contentsWriteBody struct {
	AccessToken string `json:"access_token,omitempty"`
	Message     string `json:"message"`
	Content     string `json:"content"`
	Sha         string `json:"sha,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

func (s *ContentsStore) Fetch(ctx context.Context) (core.Document, error) {
	meta := s.metadata("fetch", s.config.Path)
	status, body, err := s.send(ctx, http.MethodGet, s.config.Path, nil)
	if err != nil {
		return core.Document{}, core.NewFetchError(err, "", meta)
	}
	if status == http.StatusNotFound {
		return core.Document{Entries: []core.Entry{}}, nil
	}
	if status < 200 || status > 299 {
		return core.Document{}, core.NewFetchError(statusError("fetch", status, body), "", meta)
	}

	trimmed := bytes.TrimSpace(body)
	// Gitee answers a missing file with an empty array.
	if bytes.HasPrefix(trimmed, []byte("[")) {
		return core.Document{Entries: []core.Entry{}}, nil
	}
	file := contentsFile{}
	if err := json.Unmarshal(trimmed, &file); err != nil {
		return core.Document{}, core.NewDecodeError(err, meta)
	}
	// GitHub answers files over 1MB with encoding "none" and no content.
	if encoding := strings.ToLower(strings.TrimSpace(file.Encoding)); encoding != "" && encoding != "base64" {
		meta["encoding"] = encoding
		return core.Document{}, core.NewDecodeError(
			fmt.Errorf("transport: unsupported content encoding %q", encoding), meta)
	}
	content, err := decodeContent(file.Content)
	if err != nil {
		return core.Document{}, core.NewDecodeError(err, meta)
	}
	entries, err := s.codec.Decode(content)
	if err != nil {
		return core.Document{}, core.NewDecodeError(err, meta)
	}
	return core.Document{Entries: entries, Revision: strings.TrimSpace(file.Sha)}, nil
}

// Write replaces the document when revision is the current sha. An empty
// revision creates the file.
func (s *ContentsStore) Write(ctx context.Context, content []byte, revision string) error {
	revision = strings.TrimSpace(revision)
	meta := s.metadata("write", s.config.Path)
	meta["revision"] = revision

	method := http.MethodPut
	if revision == "" && s.config.Flavor == FlavorGitee {
		method = http.MethodPost
	}
	status, body, err := s.send(ctx, method, s.config.Path, s.writeBody(content, revision))
	if err != nil {
		return core.NewTransportError(err, "", meta)
	}
	if status >= 200 && status <= 299 {
		return nil
	}
	if isConflictStatus(status) {
		meta["status_code"] = status
		return core.NewConflictError(revision, "", meta)
	}
	return core.NewTransportError(statusError("write", status, body), "", meta)
}

// Put uploads a blob as a new file under the blob directory.
func (s *ContentsStore) Put(ctx context.Context, name string, content []byte) error {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return core.NewBlobWriteError(transportError(
			"transport: blob name is required",
			goerrors.CategoryBadInput,
			http.StatusBadRequest,
			nil,
		), name, nil)
	}
	path := name
	if s.config.BlobDir != "" {
		path = s.config.BlobDir + "/" + name
	}
	meta := s.metadata("blob_put", path)

	method := http.MethodPut
	if s.config.Flavor == FlavorGitee {
		method = http.MethodPost
	}
	status, body, err := s.send(ctx, method, path, s.writeBody(content, ""))
	if err != nil {
		return core.NewBlobWriteError(err, name, meta)
	}
	if status >= 200 && status <= 299 {
		return nil
	}
	putErr := statusError("blob_put", status, body)
	if isConflictStatus(status) {
		// The file already exists; a retry after a lost response finds its own upload.
		existing, found, readErr := s.readFile(ctx, path)
		if readErr == nil && found && bytes.Equal(existing, content) {
			return nil
		}
	}
	return core.NewBlobWriteError(putErr, name, meta)
}

func (s *ContentsStore) readFile(ctx context.Context, path string) ([]byte, bool, error) {
	status, body, err := s.send(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if status < 200 || status > 299 {
		return nil, false, statusError("blob_get", status, body)
	}
	file := contentsFile{}
	if err := json.Unmarshal(bytes.TrimSpace(body), &file); err != nil {
		return nil, false, err
	}
	if encoding := strings.ToLower(strings.TrimSpace(file.Encoding)); encoding != "" && encoding != "base64" {
		return nil, false, fmt.Errorf("transport: unsupported content encoding %q", encoding)
	}
	content, err := decodeContent(file.Content)
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

func (s *ContentsStore) writeBody(content []byte, sha string) contentsWriteBody {
	body := contentsWriteBody{
		Message: s.config.CommitMessage,
		Content: base64.StdEncoding.EncodeToString(content),
		Sha:     sha,
		Branch:  strings.TrimSpace(s.config.Branch),
	}
	if !s.bearer {
		body.AccessToken = strings.TrimSpace(s.config.AccessToken)
	}
	return body
}

func (s *ContentsStore) send(ctx context.Context, method string, path string, payload any) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return 0, nil, transportWrapError(
				err,
				goerrors.CategoryRateLimit,
				"transport: rate limiter wait",
				http.StatusTooManyRequests,
				map[string]any{"method": method},
			)
		}
	}

	endpoint, err := s.contentsURL(path, method == http.MethodGet)
	if err != nil {
		return 0, nil, err
	}
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, transportWrapError(
				err,
				goerrors.CategoryInternal,
				"transport: encode request body",
				http.StatusInternalServerError,
				nil,
			)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, nil, transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: create http request",
			http.StatusBadRequest,
			map[string]any{"method": method},
		)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	}

	res, err := s.client.Do(req)
	if err != nil {
		return 0, nil, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: execute http request",
			http.StatusBadGateway,
			map[string]any{"method": method},
		)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, s.maxResponseBodyBytes+1))
	if err != nil {
		return 0, nil, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: read response body",
			http.StatusBadGateway,
			map[string]any{"method": method, "status_code": res.StatusCode},
		)
	}
	if int64(len(body)) > s.maxResponseBodyBytes {
		return 0, nil, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", s.maxResponseBodyBytes),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"method": method, "status_code": res.StatusCode, "response_limit_b": s.maxResponseBodyBytes},
		)
	}
	return res.StatusCode, body, nil
}

func (s *ContentsStore) contentsURL(path string, withQuery bool) (string, error) {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	raw := fmt.Sprintf("%s/repos/%s/%s/contents/%s",
		s.config.BaseURL,
		url.PathEscape(s.config.Owner),
		url.PathEscape(s.config.Repo),
		strings.Join(segments, "/"),
	)
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", transportWrapError(
			err,
			goerrors.CategoryBadInput,
			"transport: invalid contents url",
			http.StatusBadRequest,
			map[string]any{"base_url": s.config.BaseURL},
		)
	}
	if withQuery {
		query := parsed.Query()
		if !s.bearer {
			query.Set("access_token", strings.TrimSpace(s.config.AccessToken))
		}
		if branch := strings.TrimSpace(s.config.Branch); branch != "" {
			query.Set("ref", branch)
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (s *ContentsStore) metadata(operation string, path string) map[string]any {
	return map[string]any{
		"flavor":    s.config.Flavor,
		"operation": operation,
		"repo":      s.config.Owner + "/" + s.config.Repo,
		"path":      path,
	}
}

// decodeContent accepts base64 wrapped across lines, as both APIs return it.
func decodeContent(encoded string) ([]byte, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "", " ", "").Replace(encoded)
	if cleaned == "" {
		return []byte{}, nil
	}
	return base64.StdEncoding.DecodeString(cleaned)
}

var (
	_ core.DocumentStore = (*ContentsStore)(nil)
	_ core.BlobStore     = (*ContentsStore)(nil)
)
