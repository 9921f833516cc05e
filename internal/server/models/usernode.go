package models

// UserNode joins a user with their assigned node for reconciliation and
// provisioning flows.
type UserNode struct {
	User User
	Node Node
}
