// Package live implements the turn-taking half of a voice interview: who is
// talking, when the candidate's answer is complete, and what happens when the
// candidate talks over the interviewer.
//
// # State Machine
//
// A Controller moves through these states:
//
//	IDLE → AI_SPEAKING → LISTENING → PROCESSING → (LISTENING | AI_SPEAKING)
//	                                      any state → ENDED
//
// AI_SPEAKING and LISTENING are mutually exclusive. While the interviewer is
// speaking, recognized speech is only inspected for barge-in: an utterance of
// at least InterruptionThreshold words (backchannels such as "uh huh" never
// count) cancels synthesis and moves straight to LISTENING.
//
// While listening, interim transcripts are surfaced for display and final
// transcripts accumulate. The answer is committed after SilenceTimeout without
// new recognition, provided it is at least MinAutoSubmitLength characters, or
// when the candidate submits explicitly. A commit moves to PROCESSING, where
// recognition is ignored until the next Speak or Listen.
//
// Speech output is a cancellable task behind the Voice interface, so ending the
// interview or a barge-in always releases the synthesis in flight.
package live
