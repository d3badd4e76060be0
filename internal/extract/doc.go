// Package extract recovers a movement description object from noisy
// producer text.
//
// Text generators rarely answer with bare JSON. They wrap it in prose, put it
// in code fences (sometimes without closing them), and annotate array lines
// with // comments. Extract tries, in order:
//
//  1. a fenced block, comment-stripped and strictly parsed, falling back to
//     key-anchored matching inside the fence
//  2. the content after an unterminated fence, key-anchored
//  3. key-anchored brace matching over the whole comment-stripped text
//  4. every non-overlapping {...} span, first strict object with a start or
//     loop field wins
//
// StripComments is the comment scanner used before every strict parse. It
// never treats // or /* inside a string literal as a comment.
package extract
