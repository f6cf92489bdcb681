// Package transcript looks up which word of a timed transcript is being
// spoken at a given playback time.
package transcript
