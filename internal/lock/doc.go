// Package lock provides a Redis-backed mutual exclusion per resource name,
// shared by every server process that talks to the same Redis.
//
// A lock is a key "lock:<resource>" holding a random owner token with a PX
// expiry, so a crashed holder cannot block others for longer than the TTL.
// Acquire retries a bounded number of times with a fixed delay and then waits
// on the "lock:<resource>:released" pub/sub channel until either a release is
// published or the TTL elapses. Release deletes the key only when it still
// holds the caller's token and publishes the release in the same Lua script.
package lock
