// Package dialog implements the concierge's session state machine.
//
// # States
//
// A session is in one of three states:
//
//   - chat: free text goes to the answer generator
//   - auth: waiting for the user to present a credential
//   - start: the state a session is left in after the connection closes
//
// New connections start in chat. Text or a menu selection arriving in start
// resumes the session to chat before it is handled.
//
// # Events
//
// Channel adapters translate inbound traffic into Event values
// (TextEvent, MenuSelectEvent, ProfileEvent, ProofSubmitEvent,
// ConnectionOpenEvent, ConnectionCloseEvent, UnknownEvent). The Orchestrator
// handles one event at a time per connection:
//
//  1. Load or create the session
//  2. Apply the event for the current state
//  3. Send the contextual menu (skipped for a closing connection)
//  4. Persist the session
//
// Handler failures send the localized ERROR_MESSAGES string to the user;
// the menu refresh and persistence still run.
//
// # Authentication
//
// Selecting the authenticate menu item moves the session to auth and sends a
// proof request for the configured credential definition. A proof submission
// without an error code authenticates the session, takes the user name from
// the firstName and lastName claims, and returns to chat. A failed proof
// reports its error code and leaves the session waiting in auth. Gateways
// that implement ProofCapability and report no proof support never show the
// authenticate item, and a selection there leaves the session in chat.
package dialog
