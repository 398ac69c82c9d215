// Package restapi provides the types, interfaces, and helpers shared by every
// generated vendor REST client.
//
// # Overview
//
// A generated client is a thin layer of endpoint wrappers over one request
// pipeline. This package defines the public half of that pipeline: the
// credential variants and auth constraints, the response cache contract and
// its backends, continuation links and pages, rate-limit state, and the
// error taxonomy. The executor itself lives in internal/http and is wired by
// the apiclient package, which is what most consumers import.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fivetwenty-io/restclient/pkg/apiclient"
//	  "github.com/fivetwenty-io/restclient/pkg/restapi"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := apiclient.New(&restapi.Config{
//	    BaseURL:    "https://api.github.com",
//	    UserAgent:  "my-integration/1.0",
//	    Credential: restapi.BearerToken{Token: "ghp_xxx"},
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  repos, err := apiclient.GetAllPages[Repo](ctx, cli, "/user/repos")
//	  if err != nil { log.Fatal(err) }
//	  _ = repos
//	}
//
// # Credentials
//
// Exactly one Credential is active per client: BasicKeyPair, BearerToken,
// SignedAssertion or DelegatedAccessToken. A DelegatedAccessToken owns a
// synchronized token slot that is refreshed lazily through the token-issuing
// endpoint, using its SignedAssertion, and shared by every request holding
// the same credential.
//
// # Caching
//
// GET responses carrying an ETag are stored in a ResponseCache keyed by the
// request URL. The next GET for that URL is sent with If-None-Match, and a
// 304 is answered from the cache. Pass NoCache() (the default) to disable
// conditional requests entirely. Backends: in-memory LRU, NATS JetStream KV,
// Redis, and chains of those.
//
// # Pagination
//
// Unfold follows rel="next" Link headers until a page is empty or no
// continuation is present, and returns every item in order.
//
// # Errors
//
// RateLimitError, RequestError, DecodeError and TokenRefreshError are typed;
// ErrAuthUnavailable and ErrCacheUnreachable are sentinels. Nothing is
// retried by the pipeline: the caller owns retry policy.
package restapi
