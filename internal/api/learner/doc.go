// Package learner serves the user backend's API: the caller's profile,
// pronunciation practice attempts, audio recordings and transcript timing.
package learner
