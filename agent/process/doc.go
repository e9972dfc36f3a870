/*
Package process owns a single supervised OS process and relays its standard streams as events.

A Handle is created by Spawn with stdin, stdout and stderr piped. Nothing is read from the child until Watch is called,
which lets the caller publish its own "started" event before any output can appear.

Once watched, the handle runs one goroutine per output stream. Each read from a pipe becomes exactly one Event carrying the
raw text of that read. Lines are not reassembled, so an event may hold a partial line or several lines. The only bytes held
back are an incomplete trailing UTF-8 sequence, which is prepended to the next read.

Stdin is written by a single goroutine draining a FIFO queue, so a child that stops reading its stdin can't block the caller.

The exit notification fires exactly once, after the process has been reaped and its output pipes have drained (or the
drain timeout passed, in case a descendant keeps the pipes open). Stream EOF by itself never means the process exited.

Termination uses a strategy chosen per platform. On unix the child is placed in its own process group and the group is
signalled. On windows the process tree is killed with taskkill.
*/
package process
