// Package session implements the client-side session store.
//
// A Session is decoded once from the stored bearer credential, at process
// start (Restore) and on explicit Login. It is never partially updated: Login
// replaces it wholesale and Logout clears it. Watchers observe every
// transition in order; the presence channel binds its lifetime to them.
//
// Credentials are issued by the server as JWT (default) or PASETO v4.public.
// Decoding rejects any credential whose expiry is not strictly in the future.
// Staleness is not re-checked after decode.
package session
