package domain

// Listener receives text delivered to the client side of a conversation:
// the greeting and every reply.
type Listener func(text string)

// ErrorListener receives failures recorded by a dispatch cycle.
type ErrorListener func(err error)
