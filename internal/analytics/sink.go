package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ingestPath         = "/v0/events"
	ingestDatasource   = "link_clicks"
	pipePathPrefix     = "/v0/pipes/"
	defaultSinkTimeout = 10 * time.Second
	maxErrorBodyBytes  = 2048
)

// Pipe names exposed by the sink.
const (
	PipeProfileSummary       = "profile_summary"
	PipeFastLinkAnalytics    = "fast_link_analytics"
	PipeLinkAnalytics        = "link_analytics"
	PipeLinkCountryAnalytics = "link_country_analytics"
)

var (
	// ErrSinkDisabled is returned by the disabled sink for every call.
	ErrSinkDisabled = errors.New("analytics: sink disabled")
	// ErrSinkRejected wraps non-2xx responses from the sink.
	ErrSinkRejected = errors.New("analytics: sink rejected request")
)

// IngestResult is the sink's acknowledgement of an ingested event.
type IngestResult struct {
	SuccessfulRows  int64 `json:"successful_rows"`
	QuarantinedRows int64 `json:"quarantined_rows"`
}

// Sink is the external analytics store: an append-only event ingest plus read pipes.
type Sink interface {
	Enabled() bool
	Ingest(ctx context.Context, event ClickEvent) (IngestResult, error)
	// Query calls pipe and decodes the "data" array of its response into rows.
	Query(ctx context.Context, pipe string, params url.Values, rows interface{}) error
}

// SinkConfig locates the sink. A config without host or token yields the disabled sink.
type SinkConfig struct {
	Host       string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewSink returns the HTTP sink, or the disabled sink when host or token is missing.
func NewSink(cfg SinkConfig) Sink {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	token := strings.TrimSpace(cfg.Token)
	if host == "" || token == "" {
		return disabledSink{}
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultSinkTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &httpSink{
		host:       host,
		token:      token,
		httpClient: client,
	}
}

type httpSink struct {
	host       string
	token      string
	httpClient *http.Client
}

func (s *httpSink) Enabled() bool {
	return true
}

func (s *httpSink) Ingest(ctx context.Context, event ClickEvent) (IngestResult, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return IngestResult{}, fmt.Errorf("analytics: encode event: %w", err)
	}
	endpoint := s.host + ingestPath + "?" + url.Values{"name": {ingestDatasource}}.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return IngestResult{}, fmt.Errorf("analytics: build ingest request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	var result IngestResult
	if err := s.do(request, &result); err != nil {
		return IngestResult{}, err
	}
	return result, nil
}

func (s *httpSink) Query(ctx context.Context, pipe string, params url.Values, rows interface{}) error {
	endpoint := s.host + pipePathPrefix + url.PathEscape(pipe) + ".json"
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return fmt.Errorf("analytics: build %s request: %w", pipe, err)
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := s.do(request, &envelope); err != nil {
		return err
	}
	if len(envelope.Data) == 0 || bytes.Equal(envelope.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, rows); err != nil {
		return fmt.Errorf("analytics: decode %s rows: %w", pipe, err)
	}
	return nil
}

func (s *httpSink) do(request *http.Request, target interface{}) error {
	request.Header.Set("Authorization", "Bearer "+s.token)
	request.Header.Set("Accept", "application/json")

	response, err := s.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("analytics: sink request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		return fmt.Errorf("%w: status %d: %s", ErrSinkRejected, response.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("analytics: decode sink response: %w", err)
	}
	return nil
}

type disabledSink struct{}

func (disabledSink) Enabled() bool {
	return false
}

func (disabledSink) Ingest(context.Context, ClickEvent) (IngestResult, error) {
	return IngestResult{}, ErrSinkDisabled
}

func (disabledSink) Query(context.Context, string, url.Values, interface{}) error {
	return ErrSinkDisabled
}
