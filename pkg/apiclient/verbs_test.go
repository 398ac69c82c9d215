package apiclient_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fivetwenty-io/restclient/pkg/apiclient"
	"github.com/fivetwenty-io/restclient/pkg/restapi"
)

type item struct {
	ID int `json:"id"`
}

type issueQuery struct {
	State   string `url:"state,omitempty"`
	PerPage int    `url:"per_page,omitempty"`
	Labels  string `url:"labels,omitempty"`
}

type captureLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *captureLogger) add(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
}

func (l *captureLogger) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.messages...)
}

func (l *captureLogger) Debug(msg string, _ map[string]interface{}) { l.add(msg) }
func (l *captureLogger) Info(msg string, _ map[string]interface{})  { l.add(msg) }
func (l *captureLogger) Warn(msg string, _ map[string]interface{})  { l.add(msg) }
func (l *captureLogger) Error(msg string, _ map[string]interface{}) { l.add(msg) }

func TestGet_ConditionalRoundTrip(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		if r.Header.Get("If-None-Match") == `"abc"` {
			w.WriteHeader(http.StatusNotModified)

			return
		}

		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Link", `</items?page=2>; rel="next"`)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, func(c *restapi.Config) {
		c.Cache = restapi.DefaultCacheConfig()
	})

	first, err := apiclient.Get[[]item](context.Background(), client, "/items")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, []item{{ID: 1}}, *first)

	second, err := apiclient.Get[[]item](context.Background(), client, "/items")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
	assert.Equal(t, int32(2), requests.Load())

	page, err := apiclient.GetPage[item](context.Background(), client, "/items")
	require.NoError(t, err)
	assert.Equal(t, []item{{ID: 1}}, page.Items)
	assert.Equal(t, "/items?page=2", page.Next, "continuation restored from the cache")
}

func TestRequest_NoContent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	asItem, err := apiclient.Get[item](context.Background(), client, "/starred/octo/hello")
	require.NoError(t, err)
	assert.Nil(t, asItem)

	asList, err := apiclient.Put[[]item](context.Background(), client, "/starred/octo/hello", nil)
	require.NoError(t, err)
	assert.Nil(t, asList)

	asString, err := apiclient.Request[string](context.Background(), client, http.MethodPost, "/x", nil)
	require.NoError(t, err)
	assert.Nil(t, asString)
}

func TestRequest_DecodeError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"not a number"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := apiclient.Get[item](context.Background(), client, "/items/1")
	require.Error(t, err)

	var decodeErr *restapi.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestRequest_EmptyBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := apiclient.Get[item](context.Background(), client, "/items/1")
	require.ErrorIs(t, err, restapi.ErrEmptyResponseBody)
	assert.Nil(t, result)

	var decodeErr *restapi.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestRequest_FailureStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := apiclient.Post[item](context.Background(), client, "/items", item{ID: 1})
	require.Error(t, err)
	assert.Nil(t, result)

	var reqErr *restapi.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnprocessableEntity, reqErr.StatusCode)
	assert.JSONEq(t, `{"message":"Validation Failed"}`, string(reqErr.Body))
}

func TestVerbs_MethodsAndBodies(t *testing.T) {
	t.Parallel()

	type seenRequest struct {
		method string
		body   string
	}

	var (
		mu   sync.Mutex
		seen []seenRequest
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		seen = append(seen, seenRequest{method: r.Method, body: string(body)})
		mu.Unlock()

		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		_, _ = w.Write([]byte(`{"id":7}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	ctx := context.Background()

	created, err := apiclient.Post[item](ctx, client, "/items", item{ID: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, created.ID)

	_, err = apiclient.Patch[item](ctx, client, "/items/7", map[string]string{"name": "x"})
	require.NoError(t, err)

	_, err = apiclient.Put[item](ctx, client, "/items/7", json.RawMessage(`{"raw":1}`))
	require.NoError(t, err)

	require.NoError(t, apiclient.Delete(ctx, client, "/items/7"))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, seen, 4)
	assert.Equal(t, http.MethodPost, seen[0].method)
	assert.JSONEq(t, `{"id":7}`, seen[0].body)
	assert.Equal(t, http.MethodPatch, seen[1].method)
	assert.JSONEq(t, `{"name":"x"}`, seen[1].body)
	assert.Equal(t, http.MethodPut, seen[2].method)
	assert.JSONEq(t, `{"raw":1}`, seen[2].body)
	assert.Equal(t, http.MethodDelete, seen[3].method)
	assert.Empty(t, seen[3].body)
}

func TestGetAllPages(t *testing.T) {
	t.Parallel()

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page == 0 {
			page = 1
			assert.Equal(t, "open", r.URL.Query().Get("state"))
			assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		}

		if page < 3 {
			next := server.URL + "/issues?page=" + strconv.Itoa(page+1)
			w.Header().Set("Link", `<`+next+`>; rel="next", <`+server.URL+`/issues?page=3>; rel="last"`)
		}

		_, _ = w.Write([]byte(`[{"id":` + strconv.Itoa(page*10) + `},{"id":` + strconv.Itoa(page*10+1) + `}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	all, err := apiclient.GetAllPages[item](context.Background(), client, "/issues",
		apiclient.WithQuery(issueQuery{State: "open", PerPage: 2}))
	require.NoError(t, err)
	assert.Equal(t, []item{{10}, {11}, {20}, {21}, {30}, {31}}, all)
}

func TestGetAllPages_CommaInNextLink(t *testing.T) {
	t.Parallel()

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `<`+server.URL+`/issues?labels=bug,ui&page=2>; rel="next", `+
				`<`+server.URL+`/issues?labels=bug,ui&page=2>; rel="last"`)
			_, _ = w.Write([]byte(`[{"id":1}]`))

			return
		}

		assert.Equal(t, "bug,ui", r.URL.Query().Get("labels"))
		_, _ = w.Write([]byte(`[{"id":2}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	all, err := apiclient.GetAllPages[item](context.Background(), client, "/issues")
	require.NoError(t, err)
	assert.Equal(t, []item{{1}, {2}}, all)
}

func TestGetAllPages_SinglePage(t *testing.T) {
	t.Parallel()

	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	all, err := apiclient.GetAllPages[item](context.Background(), client, "/issues")
	require.NoError(t, err)
	assert.Equal(t, []item{{1}}, all)
	assert.Equal(t, int32(1), requests.Load())
}

func TestGetAllPages_ErrorDiscardsPartialResult(t *testing.T) {
	t.Parallel()

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			w.WriteHeader(http.StatusInternalServerError)

			return
		}

		w.Header().Set("Link", `<`+server.URL+`/issues?page=2>; rel="next"`)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	all, err := apiclient.GetAllPages[item](context.Background(), client, "/issues")
	require.Error(t, err)
	assert.Nil(t, all)
}

func TestPages_Iterator(t *testing.T) {
	t.Parallel()

	var server *httptest.Server

	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", `<`+server.URL+`/issues?page=2>; rel="next"`)
			_, _ = w.Write([]byte(`[{"id":1}]`))

			return
		}

		_, _ = w.Write([]byte(`[{"id":2}]`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	iterator := apiclient.Pages[item](client, "/issues")

	var got []item

	for !iterator.Done() {
		batch, err := iterator.Next(context.Background())
		require.NoError(t, err)

		got = append(got, batch...)
	}

	assert.Equal(t, []item{{1}, {2}}, got)
}

func TestWithQuery(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(r.URL.Query())
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	got, err := apiclient.Get[url.Values](context.Background(), client, "/search",
		apiclient.WithQuery(issueQuery{State: "closed"}),
		apiclient.WithQuery(url.Values{"q": {"repo:octo/hello"}}),
	)
	require.NoError(t, err)
	assert.Equal(t, url.Values{"state": {"closed"}, "q": {"repo:octo/hello"}}, *got)

	_, err = apiclient.Get[url.Values](context.Background(), client, "/search", apiclient.WithQuery(42))
	require.Error(t, err)
}

func TestGetMedia_AssertionOnly(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github.machine-man-preview+json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer app.jwt", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"id":3}`))
	}))
	defer server.Close()

	delegated := restapi.NewDelegatedAccessToken(5, restapi.NewStaticAssertion("app.jwt"))
	client := newTestClient(t, server.URL, func(c *restapi.Config) {
		c.Credential = delegated
	})

	app, err := apiclient.GetMedia[item](context.Background(), client, "/app",
		restapi.Preview("machine-man"), restapi.AssertionOnly)
	require.NoError(t, err)
	assert.Equal(t, 3, app.ID)

	created, err := apiclient.PostMedia[item](context.Background(), client, "/app/hook",
		map[string]string{"url": "x"}, restapi.Preview("machine-man"), restapi.AssertionOnly)
	require.NoError(t, err)
	assert.Equal(t, 3, created.ID)

	client.SetCredentials(restapi.BearerToken{Token: "ghp_user"})

	_, err = apiclient.GetMedia[item](context.Background(), client, "/app",
		restapi.Preview("machine-man"), restapi.AssertionOnly)
	assert.ErrorIs(t, err, restapi.ErrAuthUnavailable)
}

func TestWithHeader(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2022-11-28", r.Header.Get("X-Api-Version"))
		assert.Equal(t, "apiclient-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := apiclient.Get[struct{}](context.Background(), client, "/",
		apiclient.WithHeader("X-Api-Version", "2022-11-28"))
	require.NoError(t, err)
}
