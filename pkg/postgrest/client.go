// Package postgrest implements db.Store over a hosted PostgREST endpoint
// (<project>/rest/v1), authenticating as the signed-in user when there is one.
package postgrest

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

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/session"
)

const (
	// singular asks PostgREST for exactly one row; it answers 406 and rolls back otherwise
	singular = "application/vnd.pgrst.object+json"
	// codeSingular is the error code of that 406 response
	codeSingular = "PGRST116"
)

// Client is a db.Store backed by PostgREST
type Client struct {
	baseURL    string
	apiKey     string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

// WithTokenSource authenticates requests with the source's access token. Without a
// session (session.ErrNoSession) requests fall back to the anon key.
func WithTokenSource(tokens oauth2.TokenSource) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the project at projectURL using the public anon key
func New(projectURL, apiKey string, opts ...Option) *Client {
	if !strings.HasPrefix(projectURL, "http") {
		projectURL = "https://" + projectURL
	}

	c := &Client{
		baseURL: strings.TrimRight(projectURL, "/") + "/rest/v1",
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	op         db.Op
	method     string
	collection string
	query      url.Values
	body       any
	accept     string
	prefer     string
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (c *Client) FetchOne(ctx context.Context, collection string, filter db.Filter, dest any) error {
	body, err := c.do(ctx, request{
		op:         db.OpFetchOne,
		method:     http.MethodGet,
		collection: collection,
		query:      selectQuery(filter, nil),
		accept:     singular,
	})
	if err != nil {
		return err
	}
	return db.DecodeJSON(body, dest)
}

func (c *Client) FetchMany(ctx context.Context, collection string, filter db.Filter, order []db.Order, dest any) error {
	body, err := c.do(ctx, request{
		op:         db.OpFetchMany,
		method:     http.MethodGet,
		collection: collection,
		query:      selectQuery(filter, order),
	})
	if err != nil {
		return err
	}
	return db.DecodeJSON(body, dest)
}

func (c *Client) Insert(ctx context.Context, collection string, row any, dest any) error {
	rec, err := db.ToRecord(row)
	if err != nil {
		return &db.Error{Op: string(db.OpInsert), Collection: collection, Err: err}
	}

	body, err := c.do(ctx, request{
		op:         db.OpInsert,
		method:     http.MethodPost,
		collection: collection,
		query:      url.Values{"select": {"*"}},
		body:       rec,
		accept:     singular,
		prefer:     "return=representation",
	})
	if err != nil {
		return err
	}
	return db.DecodeJSON(body, dest)
}

func (c *Client) InsertMany(ctx context.Context, collection string, rows any, dest any) error {
	recs, err := db.ToRecords(rows)
	if err != nil {
		return &db.Error{Op: string(db.OpInsertMany), Collection: collection, Err: err}
	}
	if len(recs) == 0 {
		return db.Decode([]db.Record{}, dest)
	}

	// Bulk inserts need one column set; absent keys take the column default
	query := url.Values{
		"select":  {"*"},
		"columns": {strings.Join(db.Columns(recs...), ",")},
	}
	body, err := c.do(ctx, request{
		op:         db.OpInsertMany,
		method:     http.MethodPost,
		collection: collection,
		query:      query,
		body:       recs,
		prefer:     "return=representation,missing=default",
	})
	if err != nil {
		return err
	}
	return db.DecodeJSON(body, dest)
}

func (c *Client) Update(ctx context.Context, collection string, filter db.Filter, patch any, dest any) error {
	if len(filter) == 0 {
		return &db.Error{Op: string(db.OpUpdate), Collection: collection, Err: db.ErrUnfiltered}
	}
	rec, err := db.ToRecord(patch)
	if err != nil {
		return &db.Error{Op: string(db.OpUpdate), Collection: collection, Err: err}
	}
	delete(rec, "id")

	body, err := c.do(ctx, request{
		op:         db.OpUpdate,
		method:     http.MethodPatch,
		collection: collection,
		query:      selectQuery(filter, nil),
		body:       rec,
		accept:     singular,
		prefer:     "return=representation",
	})
	if err != nil {
		return err
	}
	return db.DecodeJSON(body, dest)
}

func (c *Client) Delete(ctx context.Context, collection string, filter db.Filter) (int, error) {
	if len(filter) == 0 {
		return 0, &db.Error{Op: string(db.OpDelete), Collection: collection, Err: db.ErrUnfiltered}
	}

	query := filterQuery(filter)
	query.Set("select", "id")
	body, err := c.do(ctx, request{
		op:         db.OpDelete,
		method:     http.MethodDelete,
		collection: collection,
		query:      query,
		prefer:     "return=representation",
	})
	if err != nil {
		return 0, err
	}

	var deleted []json.RawMessage
	if err := json.Unmarshal(body, &deleted); err != nil {
		return 0, &db.Error{Op: string(db.OpDelete), Collection: collection, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return len(deleted), nil
}

func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var reqBody io.Reader
	if r.body != nil {
		jsonData, err := json.Marshal(r.body)
		if err != nil {
			return nil, &db.Error{Op: string(r.op), Collection: r.collection, Err: fmt.Errorf("failed to marshal request body: %w", err)}
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	endpoint := c.baseURL + "/" + url.PathEscape(r.collection)
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, reqBody)
	if err != nil {
		return nil, &db.Error{Op: string(r.op), Collection: r.collection, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}
	if err := c.authorize(req); err != nil {
		return nil, &db.Error{Op: string(r.op), Collection: r.collection, Err: err}
	}

	c.logger.Debug("PostgREST request",
		zap.String("method", r.method),
		zap.String("collection", r.collection),
		zap.String("query", req.URL.RawQuery))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &db.Error{Op: string(r.op), Collection: r.collection, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &db.Error{Op: string(r.op), Collection: r.collection, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode >= 400 {
		return nil, parseError(r, resp.StatusCode, respBody)
	}
	return respBody, nil
}

// authorize sets the bearer token of the signed-in user, or the anon key without one
func (c *Client) authorize(req *http.Request) error {
	if c.tokens == nil {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return nil
	}

	tok, err := c.tokens.Token()
	if errors.Is(err, session.ErrNoSession) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}
	tok.SetAuthHeader(req)
	return nil
}

func parseError(r request, status int, body []byte) error {
	remoteErr := &db.Error{
		Op:         string(r.op),
		Collection: r.collection,
		Status:     status,
		Message:    strings.TrimSpace(string(body)),
	}

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && (parsed.Code != "" || parsed.Message != "") {
		remoteErr.Code = parsed.Code
		remoteErr.Message = parsed.Message
		if parsed.Details != "" {
			remoteErr.Message += ": " + parsed.Details
		}
	}

	if status == http.StatusNotAcceptable && remoteErr.Code == codeSingular {
		// "The result contains 0 rows" or "... N rows"
		if strings.Contains(parsed.Details, " 0 rows") {
			return db.NotFound(string(r.op), r.collection)
		}
		return db.MultipleRows(string(r.op), r.collection)
	}
	return remoteErr
}
