package redis

const (
	// KeyAssignments is the hash holding the name -> port mapping.
	KeyAssignments = "moor:ports"
)
