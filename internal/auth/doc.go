/*
Package auth implements OpenID Connect login for the backends.

The Authenticator's middleware owns /login, /logout and the provider's
/callback redirect. A successful login stores the user's identity in a
signed, HTTP-only session cookie; every later request carrying that cookie
gets an Identity on its gin context. Sessions roll: once less than half of
the lifetime remains, the cookie is re-issued.

Provider metadata is discovered on the first login, not at startup.
*/
package auth
