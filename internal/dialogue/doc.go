// Package dialogue holds per-session conversation state.
//
// A session is Idle, InFlow (walking a guided flow) or Confirming. A
// session is Confirming whenever it carries a pending confirmation, with or
// without a flow, and its next turn is read strictly as a yes/no answer. The transitions themselves live in the
// engine; this package owns the state, the session table and the parsing of
// choice selections and answers.
//
// Sessions are independent. The Manager's mutex covers only the session
// map; a Session itself is mutated by one turn at a time, which the engine
// guarantees by serializing turns per session.
package dialogue
