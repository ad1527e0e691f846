package protocol

// This package implements encoding queries for, and decoding replies from, a
// Redis server speaking RESP (the REdis Serialization Protocol).
//
// It only implements the client half of the protocol: queries are written,
// replies are read. Nothing in here keeps state between calls, framing is
// entirely driven by the type byte and length prefixes on the wire.
//
// === Queries
//
// A query is an array of bulk strings, the first one being the command name.
//
//   ```
//     *<argc>\r\n
//     $<len>\r\n<arg>\r\n
//     ...
//   ```
//
// For example `SET k v` goes over the wire as
//
//   ```
//     *3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n
//   ```
//
// === Replies
//
// Every reply starts with a single type byte
//
// - `+` - simple string, the rest of the line
// - `-` - error reported by the server, the rest of the line
// - `:` - integer, the rest of the line in decimal
// - `$` - bulk string, a length line followed by that many bytes and \r\n.
//         A negative length is nil.
// - `*` - array, a count line followed by that many replies. Arrays nest.
//         A negative count decodes as an empty array.
//
// Lines are read a byte at a time until the \r, the byte after it is dropped
// without looking at it. Replies are mostly status lines and lengths so this
// stays cheap, bulk payloads are read in one go.
//
// Anything else is a protocol error. Protocol errors mean the stream can no
// longer be trusted, callers should drop the connection.
//
