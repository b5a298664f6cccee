// Package password implements Argon2id password hashing with PHC-formatted
// output, a small length policy, and strict decoding on verification.
package password
