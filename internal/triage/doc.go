// Package triage is the referral triage core for GLI (lifestyle intervention)
// programs. It holds the question catalog, the pure scoring and ranking
// functions that turn an AnswerSet into a Recommendation, and the Service that
// tracks per-referrer sessions on top of a Store.
package triage
