package token

import "context"

// RevocationStatus is an oracle's answer for a certificate id.
type RevocationStatus string

const (
	RevocationGood    RevocationStatus = "GOOD"
	RevocationRevoked RevocationStatus = "REVOKED"
	RevocationUnknown RevocationStatus = "UNKNOWN"
)

// RevocationOracle answers whether a certificate has been revoked.
// Queries must honour ctx cancellation; the verifier bounds them with a
// 5 second timeout.
type RevocationOracle interface {
	Status(ctx context.Context, certificateID string) (RevocationStatus, error)
}
