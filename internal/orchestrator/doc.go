// Package orchestrator runs the interview-coaching turn pipeline.
//
// # Overview
//
// Every candidate turn passes through four stages while the session's lock
// is held:
//
//	complexity assessment → intervention check → fan-out → phase transition
//
// An intervention short-circuits the turn: the interviewer receives the
// directive and no other collaborator is called. Otherwise the context agent,
// evaluator and interviewer are called concurrently, each through its own
// circuit breaker keyed by (agent, message kind), and the utterance is
// checked for a semantic phase transition.
//
// # Sessions
//
// Sessions live in an in-memory table backed by a session.Store. A cache miss
// loads from the store, so a restarted daemon resumes where it left off.
// Different sessions proceed in parallel; turns of one session serialize.
//
// # Collaborators
//
// Collaborators are reached through a message.Directory. When a breaker
// rejects a call, or the call fails or times out, the message goes to the
// fallback endpoint, normally a message.DeadLetter. Collaborator failures
// never fail a turn. They are reported per dispatch in the result.
//
// Inbound collaborator messages (scores, context, questions, phase
// recommendations) are applied with HandleMessage.
package orchestrator
