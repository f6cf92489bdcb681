// Package common serves the health and metrics endpoints shared by every
// backend variant.
package common
