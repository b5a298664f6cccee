// Package identity is traq's credential store: user records, password
// hashing and verification, role assignment, and the block/soft-delete
// rules that protect administrator accounts.
package identity
