// Package conversation drives two-party conversations turn by turn.
//
// A Manager owns every open Session and the busy counters of the
// participants taking part in them. Each session alternates speakers; two
// consecutive turns form a pair, and every completed pair is reported once
// to an EventSink with the lines attributed to the participant who spoke
// them. Turns are requested through a Scheduler that spaces jobs with a
// random delay and bounds how many run at once.
//
// A TurnSource produces the actual lines, usually a dialogue.Generator. Only
// quota exhaustion ends a conversation early; any other failure is replaced
// by a local line so conversations always progress.
package conversation
