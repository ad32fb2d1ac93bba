package models

// Organization is the tenant an upload belongs to.
type Organization struct {
	ID string
}

// User is the authenticated caller.
type User struct {
	ID          string
	IsSuperuser bool
}
