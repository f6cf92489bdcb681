// Package airtable is a typed client for the Airtable REST API, the
// product's secondary data store, plus a keyed TTL cache in front of its
// List operation.
package airtable
