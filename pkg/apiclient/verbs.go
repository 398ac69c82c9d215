package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/schema"

	resthttp "github.com/fivetwenty-io/restclient/internal/http"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

var queryEncoder = schema.NewEncoder()

func init() {
	queryEncoder.SetAliasTag("url")
}

// CallOption adjusts a single call.
type CallOption func(*call)

type call struct {
	query     url.Values
	mediaType restapi.MediaType
	auth      restapi.AuthConstraint
	headers   map[string]string
	err       error
}

// WithQuery encodes params into the query string. params is a struct whose
// fields carry `url:"name,omitempty"` tags, or a url.Values.
func WithQuery(params interface{}) CallOption {
	return func(c *call) {
		if values, ok := params.(url.Values); ok {
			for key, vals := range values {
				c.query[key] = append(c.query[key], vals...)
			}

			return
		}

		err := queryEncoder.Encode(params, c.query)
		if err != nil {
			c.err = fmt.Errorf("encoding query parameters: %w", err)
		}
	}
}

// WithMediaType sets the Accept media type.
func WithMediaType(mediaType restapi.MediaType) CallOption {
	return func(c *call) {
		c.mediaType = mediaType
	}
}

// WithAuth restricts which credential the call may use.
func WithAuth(constraint restapi.AuthConstraint) CallOption {
	return func(c *call) {
		c.auth = constraint
	}
}

// WithHeader adds a request header.
func WithHeader(key, value string) CallOption {
	return func(c *call) {
		c.headers[key] = value
	}
}

func newCall(opts []CallOption) (*call, error) {
	c := &call{
		query:   url.Values{},
		headers: map[string]string{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, c.err
}

// Request performs method on uri with an optional JSON body and decodes the
// response into T. A 204 response yields a nil *T.
func Request[T any](ctx context.Context, client *Client, method, uri string, body interface{}, opts ...CallOption) (*T, error) {
	resp, err := send(ctx, client, method, uri, body, opts)
	if err != nil {
		return nil, err
	}

	return decode[T](resp)
}

// Get fetches uri and decodes the response into T.
func Get[T any](ctx context.Context, client *Client, uri string, opts ...CallOption) (*T, error) {
	return Request[T](ctx, client, http.MethodGet, uri, nil, opts...)
}

// GetMedia fetches uri with a specific media type and auth constraint.
func GetMedia[T any](
	ctx context.Context,
	client *Client,
	uri string,
	mediaType restapi.MediaType,
	constraint restapi.AuthConstraint,
	opts ...CallOption,
) (*T, error) {
	opts = append([]CallOption{WithMediaType(mediaType), WithAuth(constraint)}, opts...)

	return Get[T](ctx, client, uri, opts...)
}

// GetPage fetches one page of a collection. Page.Next holds the
// continuation link, empty on the last page.
func GetPage[T any](ctx context.Context, client *Client, uri string, opts ...CallOption) (restapi.Page[T], error) {
	resp, err := send(ctx, client, http.MethodGet, uri, nil, opts)
	if err != nil {
		return restapi.Page[T]{}, err
	}

	items, err := decode[[]T](resp)
	if err != nil {
		return restapi.Page[T]{}, err
	}

	page := restapi.Page[T]{Next: resp.Next}
	if items != nil {
		page.Items = *items
	}

	return page, nil
}

// GetAllPages follows continuation links from uri and returns every item.
// Options apply to the first page only; continuation links carry their own
// query.
func GetAllPages[T any](ctx context.Context, client *Client, uri string, opts ...CallOption) ([]T, error) {
	first := true

	return restapi.Unfold(ctx, func(ctx context.Context, next string) (restapi.Page[T], error) {
		if first {
			first = false

			return GetPage[T](ctx, client, next, opts...)
		}

		return GetPage[T](ctx, client, next, stripQuery(opts)...)
	}, uri)
}

// Pages returns an iterator over the pages of a collection.
func Pages[T any](client *Client, uri string, opts ...CallOption) *restapi.PageIterator[T] {
	return restapi.NewPageIterator(func(ctx context.Context, next string) (restapi.Page[T], error) {
		if next == uri {
			return GetPage[T](ctx, client, next, opts...)
		}

		return GetPage[T](ctx, client, next, stripQuery(opts)...)
	}, uri)
}

// Post sends body to uri and decodes the response into T.
func Post[T any](ctx context.Context, client *Client, uri string, body interface{}, opts ...CallOption) (*T, error) {
	return Request[T](ctx, client, http.MethodPost, uri, body, opts...)
}

// PostMedia posts with a specific media type and auth constraint.
func PostMedia[T any](
	ctx context.Context,
	client *Client,
	uri string,
	body interface{},
	mediaType restapi.MediaType,
	constraint restapi.AuthConstraint,
	opts ...CallOption,
) (*T, error) {
	opts = append([]CallOption{WithMediaType(mediaType), WithAuth(constraint)}, opts...)

	return Post[T](ctx, client, uri, body, opts...)
}

// Patch sends body to uri with PATCH and decodes the response into T.
func Patch[T any](ctx context.Context, client *Client, uri string, body interface{}, opts ...CallOption) (*T, error) {
	return Request[T](ctx, client, http.MethodPatch, uri, body, opts...)
}

// Put sends body to uri with PUT and decodes the response into T.
func Put[T any](ctx context.Context, client *Client, uri string, body interface{}, opts ...CallOption) (*T, error) {
	return Request[T](ctx, client, http.MethodPut, uri, body, opts...)
}

// Delete deletes uri. Any response body is discarded.
func Delete(ctx context.Context, client *Client, uri string, opts ...CallOption) error {
	_, err := send(ctx, client, http.MethodDelete, uri, nil, opts)

	return err
}

func send(
	ctx context.Context,
	client *Client,
	method, uri string,
	body interface{},
	opts []CallOption,
) (*resthttp.Response, error) {
	c, err := newCall(opts)
	if err != nil {
		return nil, err
	}

	encoded, err := resthttp.EncodeBody(body)
	if err != nil {
		return nil, err //nolint:wrapcheck // already describes the failure
	}

	return client.do(ctx, &resthttp.Request{
		Method:    method,
		URI:       uri,
		Query:     c.query,
		Body:      encoded,
		MediaType: c.mediaType,
		Auth:      c.auth,
		Headers:   c.headers,
	})
}

func decode[T any](resp *resthttp.Response) (*T, error) {
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil //nolint:nilnil // absent value
	}

	if len(resp.Body) == 0 {
		return nil, &restapi.DecodeError{Err: restapi.ErrEmptyResponseBody}
	}

	var value T

	err := json.Unmarshal(resp.Body, &value)
	if err != nil {
		return nil, &restapi.DecodeError{Err: err}
	}

	return &value, nil
}

// stripQuery drops WithQuery options, keeping the others.
func stripQuery(opts []CallOption) []CallOption {
	if len(opts) == 0 {
		return nil
	}

	kept := make([]CallOption, 0, len(opts)+1)
	kept = append(kept, opts...)

	return append(kept, func(c *call) {
		c.query = url.Values{}
		c.err = nil
	})
}
