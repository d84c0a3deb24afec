// Package vectorstore is a client for a hosted, namespaced vector index
// reached over JSON/HTTP. A Client talks to the control plane (index and
// collection lifecycle); an Index handle talks to one index's data plane.
package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBatchSize is the number of records per upsert request.
	DefaultBatchSize = 128
	// DefaultUpsertConcurrency bounds in-flight upsert batches.
	DefaultUpsertConcurrency = 4
)

// ClientConfig configures a Client. APIKey is required, as is either
// Environment or ControllerURL.
type ClientConfig struct {
	APIKey      string
	Environment string
	// ProjectName is used to derive data-plane hosts when describe-index
	// does not report one. Resolved through whoami when empty.
	ProjectName string
	// ControllerURL overrides https://controller.<environment>.pinecone.io.
	ControllerURL string

	HTTPClient        *http.Client
	Retry             RetryPolicy // zero value means DefaultRetryPolicy
	BatchSize         int
	UpsertConcurrency int
	Logger            *slog.Logger
}

// Client is the control-plane session. It is immutable and safe for
// concurrent use.
type Client struct {
	controller  string
	environment string
	project     string
	batchSize   int
	concurrency int
	t           *transport
}

// NewClient validates cfg and builds a Client. No network call is made.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, invalidArg("new_client", "api key is required")
	}
	controller := strings.TrimRight(cfg.ControllerURL, "/")
	if controller == "" {
		if cfg.Environment == "" {
			return nil, invalidArg("new_client", "environment or controller url is required")
		}
		controller = fmt.Sprintf("https://controller.%s.pinecone.io", cfg.Environment)
	} else if _, err := url.Parse(controller); err != nil {
		return nil, invalidArg("new_client", "controller url: %v", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	retry := cfg.Retry
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	conc := cfg.UpsertConcurrency
	if conc <= 0 {
		conc = DefaultUpsertConcurrency
	}

	return &Client{
		controller:  controller,
		environment: cfg.Environment,
		project:     cfg.ProjectName,
		batchSize:   batch,
		concurrency: conc,
		t: &transport{
			apiKey: cfg.APIKey,
			client: httpClient,
			retry:  retry,
			logger: logger,
		},
	}, nil
}

// ControllerURL returns the control-plane base URL.
func (c *Client) ControllerURL() string { return c.controller }

func (c *Client) url(parts ...string) string {
	var b strings.Builder
	b.WriteString(c.controller)
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

// CreateIndex creates an index. Defaults are applied as documented on
// CreateIndexRequest.WithDefaults.
func (c *Client) CreateIndex(ctx context.Context, req CreateIndexRequest) error {
	if err := req.Validate(); err != nil {
		return invalidArg("create_index", "%v", err)
	}
	req = req.WithDefaults()
	if err := c.t.do(ctx, "create_index", http.MethodPost, c.url("databases"), req, nil); err != nil {
		return err
	}
	c.t.logger.Info("vectorstore: index created", "index", req.Name, "dimension", req.Dimension, "metric", req.Metric)
	return nil
}

func (c *Client) DeleteIndex(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return invalidArg("delete_index", "%v", err)
	}
	return c.t.do(ctx, "delete_index", http.MethodDelete, c.url("databases", name), nil, nil)
}

// ScaleIndex sets the replica count. Zero replicas is allowed and suspends
// the data plane while keeping the stored vectors.
func (c *Client) ScaleIndex(ctx context.Context, name string, replicas int) error {
	return c.ConfigureIndex(ctx, name, ConfigureIndexRequest{Replicas: &replicas})
}

// ConfigureIndex changes replicas and/or pod type.
func (c *Client) ConfigureIndex(ctx context.Context, name string, req ConfigureIndexRequest) error {
	if err := ValidateName(name); err != nil {
		return invalidArg("configure_index", "%v", err)
	}
	if err := req.Validate(); err != nil {
		return invalidArg("configure_index", "%v", err)
	}
	return c.t.do(ctx, "configure_index", http.MethodPatch, c.url("databases", name), req, nil)
}

func (c *Client) DescribeIndex(ctx context.Context, name string) (*IndexDescription, error) {
	if err := ValidateName(name); err != nil {
		return nil, invalidArg("describe_index", "%v", err)
	}
	var out IndexDescription
	if err := c.t.do(ctx, "describe_index", http.MethodGet, c.url("databases", name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListIndexes(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.t.do(ctx, "list_indexes", http.MethodGet, c.url("databases"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WaitForReady polls describe-index until the index reports Ready.
func (c *Client) WaitForReady(ctx context.Context, name string) (*IndexDescription, error) {
	var desc *IndexDescription
	err := c.t.retry.WaitFor(ctx, func(ctx context.Context) (bool, error) {
		d, err := c.DescribeIndex(ctx, name)
		if err != nil {
			return false, err
		}
		desc = d
		return d.Status.Ready && d.Status.State == StateReady, nil
	})
	if err != nil {
		return nil, fmt.Errorf("wait for index %s: %w", name, err)
	}
	return desc, nil
}

// WaitForDeleted polls until describe-index answers Not-Found.
func (c *Client) WaitForDeleted(ctx context.Context, name string) error {
	err := c.t.retry.WaitFor(ctx, func(ctx context.Context) (bool, error) {
		_, err := c.DescribeIndex(ctx, name)
		if err == nil {
			return false, nil
		}
		if isNotFound(err) {
			return true, nil
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("wait for index %s deletion: %w", name, err)
	}
	return nil
}

func (c *Client) CreateCollection(ctx context.Context, req CreateCollectionRequest) error {
	if err := req.Validate(); err != nil {
		return invalidArg("create_collection", "%v", err)
	}
	return c.t.do(ctx, "create_collection", http.MethodPost, c.url("collections"), req, nil)
}

func (c *Client) DescribeCollection(ctx context.Context, name string) (*CollectionDescription, error) {
	if err := ValidateName(name); err != nil {
		return nil, invalidArg("describe_collection", "%v", err)
	}
	var out CollectionDescription
	if err := c.t.do(ctx, "describe_collection", http.MethodGet, c.url("collections", name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return invalidArg("delete_collection", "%v", err)
	}
	return c.t.do(ctx, "delete_collection", http.MethodDelete, c.url("collections", name), nil, nil)
}

func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	var out []string
	if err := c.t.do(ctx, "list_collections", http.MethodGet, c.url("collections"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// WhoAmI reports the project the API key belongs to.
func (c *Client) WhoAmI(ctx context.Context) (*WhoAmI, error) {
	var out WhoAmI
	if err := c.t.do(ctx, "whoami", http.MethodGet, c.url("actions", "whoami"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Index describes the named index and returns a data-plane handle for it.
func (c *Client) Index(ctx context.Context, name string) (*Index, error) {
	desc, err := c.DescribeIndex(ctx, name)
	if err != nil {
		return nil, err
	}
	host := desc.Status.Host
	if host == "" {
		project := c.project
		if project == "" {
			who, err := c.WhoAmI(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolve project for index %s: %w", name, err)
			}
			project = who.ProjectName
		}
		if project == "" || c.environment == "" {
			return nil, invalidArg("index", "cannot derive data-plane host for %s: project or environment unknown", name)
		}
		host = fmt.Sprintf("%s-%s.svc.%s.pinecone.io", name, project, c.environment)
	}
	return c.IndexWithHost(name, host, desc.Database.Dimension), nil
}

// IndexWithHost builds a handle without a describe call. A host without a
// scheme is reached over https. A dimension of 0 disables client-side
// dimension checks.
func (c *Client) IndexWithHost(name, host string, dimension int) *Index {
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return &Index{
		name:        name,
		base:        strings.TrimRight(host, "/"),
		dimension:   dimension,
		batchSize:   c.batchSize,
		concurrency: c.concurrency,
		t:           c.t,
	}
}
