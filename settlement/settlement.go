// Package settlement talks to the upper layer service that receives batch
// commitments.  The rollup only pushes data up: committed batch records go
// out, and the settlement layer calls back into the rollup API when it wants
// an inclusion proof.
package settlement

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"dispute-rollup/common"

	"github.com/dghubble/sling"
)

// Client is the interface to the settlement layer
type Client interface {
	// SubmitCommitment pushes a committed batch record.  Blocking.
	SubmitCommitment(ctx context.Context, commitment *common.BatchCommitment) error
	// LastCommittedBatch returns the highest batch number the settlement
	// layer has accepted, 0 when it has none
	LastCommittedBatch(ctx context.Context) (common.BatchNum, error)
}

// ErrorServer is the return struct for an API error
type ErrorServer struct {
	Message string `json:"msg"`
}

type apiMethod string

const (
	// GET is an HTTP GET
	GET apiMethod = "GET"
	// POST is an HTTP POST with maybe JSON body
	POST apiMethod = "POST"
)

type lastBatchResponse struct {
	BatchNum common.BatchNum `json:"batchNum"`
}

// HTTPClient is the sling based settlement layer client
type HTTPClient struct {
	URL    string
	client *sling.Sling
}

// NewHTTPClient creates an HTTPClient for the settlement service at the
// given base URL
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	return &HTTPClient{
		URL: url,
		client: sling.New().Base(url).Client(&http.Client{
			Timeout: timeout,
		}),
	}
}

func (c *HTTPClient) apiRequest(ctx context.Context, method apiMethod,
	path string, body interface{}, ret interface{}) error {
	path = strings.TrimPrefix(path, "/")
	var errSrv ErrorServer
	var err error
	var res *http.Response
	switch method {
	case GET:
		req, reqErr := c.client.New().Get(path).Request()
		if reqErr != nil {
			return common.Wrap(reqErr)
		}
		res, err = c.client.Do(req.WithContext(ctx), ret, &errSrv)
	case POST:
		req, reqErr := c.client.New().Post(path).BodyJSON(body).Request()
		if reqErr != nil {
			return common.Wrap(reqErr)
		}
		res, err = c.client.Do(req.WithContext(ctx), ret, &errSrv)
	default:
		return common.Wrap(fmt.Errorf("invalid http method: %v", method))
	}
	if err != nil {
		return common.Wrap(err)
	}
	defer res.Body.Close() //nolint:errcheck
	if !(200 <= res.StatusCode && res.StatusCode < 300) {
		return common.Wrap(fmt.Errorf("bad response: %v, %+v",
			res.StatusCode, errSrv))
	}
	return nil
}

// SubmitCommitment implements the Client interface
func (c *HTTPClient) SubmitCommitment(ctx context.Context,
	commitment *common.BatchCommitment) error {
	return c.apiRequest(ctx, POST, "/commitments", commitment, nil)
}

// LastCommittedBatch implements the Client interface
func (c *HTTPClient) LastCommittedBatch(ctx context.Context) (common.BatchNum, error) {
	var res lastBatchResponse
	if err := c.apiRequest(ctx, GET, "/commitments/last", nil, &res); err != nil {
		return 0, common.Wrap(err)
	}
	return res.BatchNum, nil
}

// MockClient is a settlement client for tests and for nodes running without
// a settlement layer.  It records what it receives and never fails unless
// told to.
type MockClient struct {
	mu sync.Mutex
	// Err, when set, is returned by every call
	Err         error
	commitments []*common.BatchCommitment
}

// SubmitCommitment implements the Client interface
func (c *MockClient) SubmitCommitment(ctx context.Context,
	commitment *common.BatchCommitment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.commitments = append(c.commitments, commitment)
	return nil
}

// LastCommittedBatch implements the Client interface
func (c *MockClient) LastCommittedBatch(ctx context.Context) (common.BatchNum, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	if len(c.commitments) == 0 {
		return 0, nil
	}
	return c.commitments[len(c.commitments)-1].BatchNum, nil
}

// Commitments returns a snapshot of the received commitments
func (c *MockClient) Commitments() []*common.BatchCommitment {
	c.mu.Lock()
	defer c.mu.Unlock()
	commitments := make([]*common.BatchCommitment, len(c.commitments))
	copy(commitments, c.commitments)
	return commitments
}
