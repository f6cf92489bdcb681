// Package httpclient builds the retrying outbound HTTP clients used for
// the identity provider and the secondary data store.
package httpclient
