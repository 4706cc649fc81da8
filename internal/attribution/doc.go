// Package attribution reports platform purchases to the referral backend.
//
// Each transaction id moves through three states:
//
//	Unseen -> Reporting -> Recorded
//
// A Recorded id is never reported again, across process restarts, because the
// set of recorded ids is persisted in the key-value store. Concurrent calls
// for the same id are collapsed with singleflight so the membership check and
// the append behave as one step.
//
// The engine also owns the active subscription product: the product id the
// user is believed to be subscribed to. It lives in memory only and gates the
// reward operations.
package attribution
