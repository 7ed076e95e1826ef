// Package injection implements pattern-based prompt injection scoring.
//
// Detection uses a fixed set of weighted regex patterns across four
// categories: instruction override, role manipulation, delimiter injection,
// and context manipulation. Matched weights accumulate into a risk score;
// content at or above the configured threshold is blocked. Binary matching
// of single phrases produces too many false positives on benign prompts, so
// a single weak match never blocks on its own.
package injection
