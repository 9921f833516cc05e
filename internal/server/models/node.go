package models

import "time"

// Node is a remote service endpoint exposing a provisioning API.
type Node struct {
	ID        int64
	Name      string
	Domain    string
	APIURL    string
	APIToken  string
	Enabled   bool
	CreatedAt time.Time
}

// NodeOccupancy pairs a node with the number of users currently assigned
// to it. Returned in catalog (name) order for deterministic placement.
type NodeOccupancy struct {
	Node  Node
	Users int
}
