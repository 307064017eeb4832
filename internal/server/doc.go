// Package server assembles coven-concierge and runs it.
//
// New builds the SQLite store, the agent pack resolver, conversation memory,
// the retrieval index, the LLM provider, the answer generator, the stats sink,
// the per-connection dispatcher, and the enabled channels. Run serves the VS
// Agent webhooks (on a TCP address or a Tailscale node) and syncs the Matrix
// bridge until its context is cancelled. The same listener answers direct
// questions on /chatbot/ask and indexes documents posted to
// /langchain-rag/add-doc.
//
// Shutdown order:
//
//  1. Stop accepting webhooks and stop the Matrix sync
//  2. Drain the dispatcher so in-flight events finish
//  3. Flush the stats sink
//  4. Close memory, the index, the tailnet node, and the store
package server
