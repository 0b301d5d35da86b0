// Package chaty is the real-time core of a chat backend that delegates
// identity to an external provider.
//
// Channels:
//   - BroadcastChannel is a bounded ring buffer shared by every receiver.
//     Senders never block; a receiver that falls more than the capacity
//     behind gets a LagError with the skipped count and resumes at the
//     oldest retained message.
//   - ChannelRegistry maps user ids to channels. EnsureChannel is idempotent
//     and channels live for the life of the process.
//   - ChatFanout publishes chat envelopes to a user; VerificationBus carries
//     one-shot email verified notices that receivers filter by user id.
//
// Verification:
//   - Signup creates the account at the identity provider, stores it and
//     hands the verification email to a Dispatcher task. Email failures move
//     the account to failed and never fail the signup.
//   - The callback link carries an HMAC-SHA256 signature of the user id, so
//     verification needs no server side session.
//   - VerificationStateMachine owns the transition graph. Verified is terminal,
//     a verified replay is a no-op that republishes the notice.
//
// Transport:
//   - HTTPController registers the JSON endpoints on a go-router router.
//   - ChatSocket and EmailVerifiedSocket push envelopes and rendered
//     fragments over WebSocket connections.
package chaty
