// Package apiclient is the entry point generated API clients build on. It
// wires a restapi.Config into the request pipeline and exposes typed verb
// helpers that encode bodies, decode responses and follow pagination.
//
// Quick start
//
//	client, err := apiclient.New(&restapi.Config{
//	  UserAgent:  "my-app",
//	  Credential: restapi.BearerToken{Token: os.Getenv("API_TOKEN")},
//	  Cache:      restapi.DefaultCacheConfig(),
//	})
//	if err != nil { log.Fatal(err) }
//
//	repo, err := apiclient.Get[Repository](ctx, client, "/repos/octo/hello")
//
//	issues, err := apiclient.GetAllPages[Issue](ctx, client, "/repos/octo/hello/issues",
//	  apiclient.WithQuery(IssueQuery{State: "open", PerPage: 100}))
//
// # Credentials
//
// The active credential can be swapped at any time with SetCredentials.
// NewForInstallation builds a delegated access token from an app id and
// private key; tokens are issued on first use and renewed when they expire.
// Calls that must authenticate as the app itself pass WithAuth(restapi.AssertionOnly)
// or use GetMedia/PostMedia.
//
// # Conditional requests
//
// With a cache configured, GET responses carrying an ETag are stored and
// later requests send If-None-Match. A 304 is answered from the cache, so
// callers always receive a decoded value.
//
// # Errors
//
// Failed calls return *restapi.RateLimitError when the rate limit is
// exhausted, *restapi.RequestError for other failure statuses and
// *restapi.DecodeError when a success body does not match T.
package apiclient
