package auth

// Role labels what kind of token the adapter minted. The escrow core never
// trusts the role claim for privileged actions; it checks the arbiter roster
// by identity. The role only lets the adapter shape responses.
type Role string

const (
	RoleParty   Role = "party"
	RoleArbiter Role = "arbiter"
)

// Claims is the verified content of an actor token.
type Claims struct {
	Identity string
	Handle   string
	Role     Role
}

// TokenRequest contains the fields supplied when asking for an actor token.
type TokenRequest struct {
	Identity   string `json:"identity"`
	Handle     string `json:"handle"`
	Arbiter    bool   `json:"arbiter"`
	Passphrase string `json:"passphrase"`
}
