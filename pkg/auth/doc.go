// Package auth verifies identity provider tokens and mints platform tokens.
//
// # Verification
//
// JWKSVerifier checks an inbound token against the provider's published key
// set. Keys are fetched from Issuer + WellKnownJWKSPath unless JWKSURL is
// set, cached, and refetched when a token names an unknown key id:
//
//	verifier, err := auth.NewJWKSVerifier(auth.VerifierConfig{
//		Issuer:   "https://clerk.example.com",
//		Audience: "my-app",
//	})
//	claims, err := verifier.Verify(ctx, rawToken)
//
// Every failure is an errcode.Error. A wrong issuer or audience carries its
// own code for logging, but callers report all of them as jwt_invalid.
//
// # Minting
//
// Minter signs HS256 tokens with the platform's JWT secret. Subject is the
// internal user id; aud and role are both "authenticated":
//
//	minter, err := auth.NewMinter(secret, auth.WithLifetime(time.Hour))
//	token, err := minter.Mint(internalID, email)
//
// TokenCache keeps a minted token for a short time so a client that
// federates repeatedly gets the same token back. Entries are bound to the
// external subject that produced them.
package auth
