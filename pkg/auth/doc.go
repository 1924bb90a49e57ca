// Package auth verifies bearer tokens issued by an OAuth2 authorization
// server and decides whether a verified caller may use a route.
//
// The pieces compose into one pipeline on the resource side:
//
//	KeyResolver     resolves signing keys per issuer from OIDC discovery and JWKS
//	Verifier        checks structure, key, signature, issuer, exp and nbf in order
//	MapAuthorities  turns scope and roles claims into an Authorities set
//	Guard           runs bearer -> verify -> map -> authorize for a route pattern
//
// HTTPMiddleware and the gRPC server interceptors put a Guard in front of a
// ServeMux or a grpc.Server. On success the request context carries the
// [VerifiedClaims] and [Authorities]; on failure the caller sees 401 or 403
// (Unauthenticated or PermissionDenied) with a fixed message that never
// names the authority that was missing.
//
//	keys, _ := auth.NewKeyResolver(auth.ResolverConfig{TTL: 5 * time.Minute})
//	verifier, _ := auth.NewVerifier(keys, auth.VerifierConfig{})
//	guard, _ := auth.NewGuard(verifier, auth.GuardConfig{
//	    Issuer: "http://keycloak:8080/realms/demo",
//	    Routes: auth.RouteTable{"GET /orders": "get-access", "GET /healthz": auth.PublicAuthority},
//	})
//	handler := auth.HTTPMiddleware(guard, mux)(mux)
package auth
