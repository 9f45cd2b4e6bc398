package domain

// Identity is the logical routing key for a user of the portal: a patient,
// doctor, or admin record ID. The realtime core never looks inside it.
type Identity string

// ConnectionID identifies one live transport-level connection. A single
// Identity may be represented by several connections (multiple tabs).
type ConnectionID string

type UserRole string

const (
	RolePatient UserRole = "patient"
	RoleDoctor  UserRole = "doctor"
	RoleAdmin   UserRole = "admin"
)
