/*
Package protocol defines the messages exchanged between a native-messaging host and its parent process (typically a browser extension).

Every message is a JSON object carrying an "id" and a "type". The id is a UUID generated by the caller for each request and echoed unchanged in every response produced for that request. The type selects the variant; the remaining fields depend on it.

The protocol proceeds as follows:

1. The parent sends a request with a fresh id.
2. The host answers with exactly one response, except for "native.processContent", which streams zero or more "native.content" messages followed by exactly one terminal "native.done" or "native.error".
3. "native.cancelProcess" references the id of an in-flight "native.processContent" request. It produces no response of its own; the cancelled stream ends with a "native.done" whose "cancelled" field is true and whose "exitCode" is null.

No ordering is guaranteed across different ids. Framing on the wire is handled by package codec.
*/
package protocol
