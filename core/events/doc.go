// Package events defines the streaming event contract consumed by the relay.
//
// Event kinds mirror the Responses API stream and are grouped by namespace:
//
//   - response.*: lifecycle events. Created, in-progress, completed, failed and
//     incomplete events carry a full Response snapshot.
//   - response.output_item.*: an output item was opened or finalized. The
//     finalized Item is authoritative for tool results and errors.
//   - response.output_text.*: append-only text deltas, the final text and
//     citation annotations.
//   - response.function_call_arguments.* and response.mcp_call_arguments.*:
//     streamed tool call arguments.
//   - response.mcp_call.* and response.mcp_list_tools.*: remote tool server
//     progress. Details arrive with the matching output item.
//   - response.image_generation_call.*: image generation progress.
//   - error: a stream level failure with a code and message.
//
// Kinds that are not listed here are still decoded; consumers are expected to
// ignore kinds they do not recognize.
package events
