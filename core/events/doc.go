// Package events defines the typed session event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - item.*
//   - turn.*
//   - tool_call.*
//   - tool_client.*
//   - session.*
//   - error.*
//
// Semantics used across the package:
//
//   - Delta: an incremental content fragment applied to an in-progress item.
//   - Truncated: an item whose buffered audio was clipped at a sample offset
//     after a user interrupt.
//   - Contained error: a failure local to one item, tool call, or provider
//     client; the session stays usable and the failure is observable only
//     through the corresponding event.
//
// item events
//
//   - ItemCreated (item.created): a conversation item entered the collection.
//   - ItemUpdated (item.updated): a delta was applied; carries the fragment.
//   - ItemCompleted (item.completed): the item reached its terminal content.
//   - ItemTruncated (item.truncated): buffered audio was clipped; derived
//     from a speech-stop boundary, never sent by the remote service.
//   - ItemDeleted (item.deleted): the item was removed from the collection.
//
// turn events
//
//   - TurnStarted (turn.started): speech start boundary for an item.
//   - TurnStopped (turn.stopped): speech stop boundary; carries the sample
//     offset the accumulated audio was clipped at.
//
// tool_call events
//
//   - ToolCallStarted (tool_call.started): tool execution started.
//   - ToolCallCompleted (tool_call.completed): tool execution completed.
//   - ToolCallFailed (tool_call.failed): tool execution failed; the failure
//     is also normalized into the tool result, so this event is diagnostic.
//
// tool_client events
//
//   - ToolClientReady (tool_client.ready): a provider client finished its
//     handshake and announced its tool list.
//   - ToolClientStopped (tool_client.stopped): a provider client was stopped.
//   - ToolClientFailed (tool_client.failed): a provider client became
//     unusable; its tools are removed from the registry.
//   - ToolsRefreshed (tool_client.tools_refreshed): a provider re-announced
//     its tool list.
//   - NotificationReceived (tool_client.notification): the provider sent a
//     JSON-RPC notification; forwarded verbatim, no response expected.
//
// session events
//
//   - SessionConfigured (session.configured): configuration was applied, and
//     re-transmitted to the remote service when connected.
//   - SessionClosed (session.closed): the session client shut down.
//
// error events
//
//   - ProtocolError (error.protocol): a contained protocol failure (unknown
//     item id, stale delta, malformed payload, unknown correlation id).
package events
