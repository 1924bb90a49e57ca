// Package token acquires, caches and presents OAuth2 client-credentials
// access tokens for outbound service-to-service calls.
//
// An [Acquirer] performs the grant against the issuer's token endpoint. A
// [Cache] keeps one token per client id, renews it ahead of expiry in the
// background, and guarantees that concurrent callers share a single
// in-flight request. A [Dispatcher] attaches the cached token to outgoing
// HTTP requests and, on a 401 from the resource service, forces exactly one
// refresh and retries once. [UnaryClientInterceptor] does the same for gRPC.
//
// # Usage
//
//	acq := token.NewAcquirer(token.AcquirerConfig{})
//	cache, err := token.NewCache(acq, token.CacheConfig{})
//	if err != nil {
//	    return err
//	}
//	defer cache.Close()
//
//	d, err := token.NewDispatcher(cache.Source(identity), token.DispatcherConfig{})
//	if err != nil {
//	    return err
//	}
//	resp, err := d.Client().Get("http://ms-resource-service:8081/orders")
package token
