// Package vsagent connects the concierge to a VS Agent.
//
// Inbound, the VS Agent posts webhooks:
//
//	POST /message-received          one DIDComm message
//	POST /connection-state-updated  connection completed or terminated
//	GET  /health
//
// Each webhook is mapped to a dialog event and submitted to the dispatcher;
// the handler answers 202 before the event is processed. Receipts are
// dropped. A full per-connection queue answers 503 with Retry-After.
//
// Outbound, Client posts text, contextual menu updates, and identity proof
// requests to the VS Agent admin API at /v1/message.
package vsagent
