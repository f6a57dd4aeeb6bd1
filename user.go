package gatehouse

import "gatehouse/internal/user"

// User is the subject of every evaluation. Treated as immutable for the
// duration of a call; private attributes never appear in logged payloads.
type User = user.User

// Environment is the tier tag attached to logged events.
type Environment = user.Environment
